package identity

import (
	"errors"
	"slices"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is a key pair plus the nodes it is affiliated with.
// PrivKey never leaves the owning client outside of the simulation.
type Account struct {
	PubKey  string   `cbor:"1,keyasint" json:"pubKey"`
	PrivKey string   `cbor:"2,keyasint" json:"privKey"`
	NodeIDs []string `cbor:"3,keyasint,omitempty" json:"nodeIds"`
}

func (a *Account) AffiliatedWith(nodeID string) bool {
	return slices.Contains(a.NodeIDs, nodeID)
}

func (a *Account) Clone() *Account {
	out := *a
	out.NodeIDs = slices.Clone(a.NodeIDs)
	return &out
}

// AccountIndex defines the interface for persisting accounts.
type AccountIndex interface {
	// Get retrieves an account by its public key.
	// It returns ErrAccountNotFound if the key is unknown.
	Get(pubKey string) (*Account, error)

	// Put stores or replaces an account.
	Put(*Account) error

	// Enumerate returns every stored account.
	Enumerate() ([]*Account, error)

	// Close releases any resources held by the index.
	Close() error
}
