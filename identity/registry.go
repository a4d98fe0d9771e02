// Package identity keeps the accounts that can own banknotes and the nodes each account is affiliated with.
package identity

import (
	"fmt"
	"sync"

	"meshledger/datamodel/identity"

	log "github.com/sirupsen/logrus"
)

// KeyGenerator is satisfied by every ledger.Signer.
type KeyGenerator interface {
	GenerateKey() (pub string, priv string, err error)
}

type Registry struct {
	mu       sync.RWMutex
	keys     KeyGenerator
	index    identity.AccountIndex
	accounts map[string]*identity.Account
	order    []string
}

// NewRegistry creates a registry. If index is not nil, stored accounts are loaded in index order ahead of any new
// account and every change is written through.
func NewRegistry(keys KeyGenerator, index identity.AccountIndex) (*Registry, error) {
	r := &Registry{
		keys:     keys,
		index:    index,
		accounts: make(map[string]*identity.Account),
	}
	if index == nil {
		return r, nil
	}

	stored, err := index.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	for _, a := range stored {
		r.accounts[a.PubKey] = a
		r.order = append(r.order, a.PubKey)
	}
	log.Infof("Loaded %d accounts", len(stored))
	return r, nil
}

// CreateIdentity generates a fresh key pair affiliated with nodeIDs.
func (r *Registry) CreateIdentity(nodeIDs ...string) (*identity.Account, error) {
	pub, priv, err := r.keys.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	a := &identity.Account{PubKey: pub, PrivKey: priv}
	a.NodeIDs = appendUnique(a.NodeIDs, nodeIDs...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.persist(a); err != nil {
		return nil, err
	}
	r.accounts[pub] = a
	r.order = append(r.order, pub)
	return a.Clone(), nil
}

func (r *Registry) Get(pubKey string) (*identity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[pubKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", identity.ErrAccountNotFound, pubKey)
	}
	return a.Clone(), nil
}

// Affiliate adds nodeIDs to the account's affiliations.
func (r *Registry) Affiliate(pubKey string, nodeIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[pubKey]
	if !ok {
		return fmt.Errorf("%w: %s", identity.ErrAccountNotFound, pubKey)
	}
	updated := a.Clone()
	updated.NodeIDs = appendUnique(updated.NodeIDs, nodeIDs...)
	if err := r.persist(updated); err != nil {
		return err
	}
	r.accounts[pubKey] = updated
	return nil
}

// AccountsForNode returns the accounts affiliated with nodeID, in creation order.
func (r *Registry) AccountsForNode(nodeID string) []*identity.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*identity.Account
	for _, pub := range r.order {
		if a := r.accounts[pub]; a.AffiliatedWith(nodeID) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// AllAccounts returns every account in creation order.
func (r *Registry) AllAccounts() []*identity.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*identity.Account, 0, len(r.order))
	for _, pub := range r.order {
		out = append(out, r.accounts[pub].Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) persist(a *identity.Account) error {
	if r.index == nil {
		return nil
	}
	if err := r.index.Put(a); err != nil {
		return fmt.Errorf("store account: %w", err)
	}
	return nil
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, have := range dst {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
