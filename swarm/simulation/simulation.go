// Package simulation wires a mesh of nodes over one relay together with a banknote ledger: chains are issued to
// registered identities and random payments are announced as DATA broadcasts from a node the payer is affiliated with.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"meshledger/datamodel/chain"
	dmidentity "meshledger/datamodel/identity"
	"meshledger/helper/timer"
	"meshledger/identity"
	"meshledger/ledger"
	"meshledger/net/relay"
	"meshledger/oid"
	"meshledger/swarm/node"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidOptions = errors.New("simulation: invalid options")
	ErrNoChains       = errors.New("simulation: no chains issued")
	ErrNoRecipient    = errors.New("simulation: no recipient besides the owner")
)

type Options struct {
	NodeCount       int
	SeedsPerNode    int
	IdentityCount   int
	MaxAffiliations int
	ChainCount      int
	DefinitionHash  string
	// PaymentInterval paces the payment loop in Run. Zero disables automatic payments.
	PaymentInterval time.Duration
	// ForkEvery makes every n-th payment spend from a random earlier block instead of the tip. Zero never forks.
	ForkEvery int
	Seed      int64

	Node  node.Options
	Relay relay.Options
}

func DefaultOptions() Options {
	return Options{
		NodeCount:       30,
		SeedsPerNode:    3,
		IdentityCount:   30,
		MaxAffiliations: 3,
		ChainCount:      500,
		DefinitionHash:  "meshledger-banknote-v1",
		PaymentInterval: 500 * time.Millisecond,
		Node:            node.DefaultOptions(),
		Relay:           relay.DefaultOptions(),
	}
}

func (o *Options) Validate() error {
	switch {
	case o.NodeCount < 1:
		return fmt.Errorf("%w: node count %d", ErrInvalidOptions, o.NodeCount)
	case o.SeedsPerNode < 0:
		return fmt.Errorf("%w: seeds per node %d", ErrInvalidOptions, o.SeedsPerNode)
	case o.IdentityCount < 1:
		return fmt.Errorf("%w: identity count %d", ErrInvalidOptions, o.IdentityCount)
	case o.MaxAffiliations < 1:
		return fmt.Errorf("%w: max affiliations %d", ErrInvalidOptions, o.MaxAffiliations)
	case o.ChainCount < 0 || o.PaymentInterval < 0 || o.ForkEvery < 0:
		return fmt.Errorf("%w: negative chain count, payment interval or fork period", ErrInvalidOptions)
	}
	return nil
}

// Payment describes one completed transfer.
type Payment struct {
	Serial      uint64
	GenesisHash string
	BlockIndex  int
	ParentIndex int
	From        string
	To          string
	NodeID      string
	MessageID   string
	Forked      bool
}

type Simulation struct {
	opts     Options
	rng      *rand.Rand
	relay    *relay.Relay
	nodes    []*node.Node
	byID     map[string]*node.Node
	registry *identity.Registry
	engine   *ledger.Engine
	store    chain.Store
	issuer   *dmidentity.Account

	// Serializes IssueChains and Pay, which share rng
	payMu sync.Mutex

	mu     sync.Mutex
	chains map[string]*ledger.Chain
	order  []string

	payments atomic.Uint64
	forks    atomic.Uint64
	failures atomic.Uint64
}

// New builds the relay, the nodes and the identities. Nothing runs until Run. accounts may be nil.
func New(opts Options, engine *ledger.Engine, store chain.Store, accounts dmidentity.AccountIndex) (*Simulation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	relayOpts := opts.Relay
	if relayOpts.Rand == nil {
		relayOpts.Rand = rand.New(rand.NewSource(rng.Int63()))
	}

	registry, err := identity.NewRegistry(engine.Signer(), accounts)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		opts:     opts,
		rng:      rng,
		relay:    relay.New(relayOpts),
		byID:     make(map[string]*node.Node),
		registry: registry,
		engine:   engine,
		store:    store,
		chains:   make(map[string]*ledger.Chain),
	}

	ids := NodeIDs(opts.NodeCount)
	for i, id := range ids {
		nodeOpts := opts.Node
		nodeOpts.Rand = rand.New(rand.NewSource(rng.Int63()))
		if nodeOpts.Observer == nil {
			nodeOpts.Observer = node.LogObserver{Logger: log.WithField("sim", "mesh")}
		}
		n, err := node.New(id, s.relay, s.seedsFor(ids, i), nodeOpts)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", id, err)
		}
		s.nodes = append(s.nodes, n)
		s.byID[id] = n
	}

	s.issuer, err = registry.CreateIdentity(ids[0])
	if err != nil {
		return nil, fmt.Errorf("create issuer: %w", err)
	}
	for i := 0; i < opts.IdentityCount; i++ {
		if _, err := registry.CreateIdentity(s.affiliationsFor(ids)...); err != nil {
			return nil, fmt.Errorf("create identity %d: %w", i, err)
		}
	}

	log.Infof("Simulation: %d nodes, %d accounts, issuer %s", len(s.nodes), registry.Len(), oid.Shorten(s.issuer.PubKey))
	return s, nil
}

// NodeIDs returns the ids used for a mesh of count nodes: node-01, node-02, ...
func NodeIDs(count int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%02d", i+1)
	}
	return ids
}

// seedsFor picks up to SeedsPerNode distinct ids other than ids[self].
func (s *Simulation) seedsFor(ids []string, self int) []string {
	var seeds []string
	for _, i := range s.rng.Perm(len(ids)) {
		if len(seeds) == s.opts.SeedsPerNode {
			break
		}
		if i != self {
			seeds = append(seeds, ids[i])
		}
	}
	return seeds
}

func (s *Simulation) affiliationsFor(ids []string) []string {
	n := 1 + s.rng.Intn(s.opts.MaxAffiliations)
	if n > len(ids) {
		n = len(ids)
	}
	out := make([]string, 0, n)
	for _, i := range s.rng.Perm(len(ids))[:n] {
		out = append(out, ids[i])
	}
	return out
}

// IssueChains creates ChainCount chains with serials 1..ChainCount. Each genesis is owned by the issuer and is
// immediately transferred to a random account. Every chain is written to the store.
func (s *Simulation) IssueChains() error {
	s.payMu.Lock()
	defer s.payMu.Unlock()

	holders := s.holders()
	for serial := uint64(1); serial <= uint64(s.opts.ChainCount); serial++ {
		c := s.engine.Issue(serial, s.issuer.PubKey, s.opts.DefinitionHash)
		to := holders[s.rng.Intn(len(holders))]
		if _, err := s.engine.AddTransferBlock(c, s.issuer.PrivKey, to.PubKey); err != nil {
			return fmt.Errorf("issue serial %d: %w", serial, err)
		}
		if err := s.persist(c); err != nil {
			return err
		}

		s.mu.Lock()
		s.chains[c.GenesisHash()] = c
		s.order = append(s.order, c.GenesisHash())
		s.mu.Unlock()
	}
	log.Infof("Simulation: issued %d chains", s.opts.ChainCount)
	return nil
}

// holders are all accounts except the issuer.
func (s *Simulation) holders() []*dmidentity.Account {
	var out []*dmidentity.Account
	for _, a := range s.registry.AllAccounts() {
		if a.PubKey != s.issuer.PubKey {
			out = append(out, a)
		}
	}
	return out
}

func (s *Simulation) persist(c *ledger.Chain) error {
	if s.store == nil {
		return nil
	}
	if _, _, err := s.store.Put(c.Record()); err != nil {
		return fmt.Errorf("store serial %d: %w", c.Serial(), err)
	}
	return nil
}

// Pay transfers a random chain from its current owner to another random account and announces the transfer from a
// node the owner is affiliated with. The transfer is kept even if the announcement fails.
func (s *Simulation) Pay(ctx context.Context) (*Payment, error) {
	s.payMu.Lock()
	defer s.payMu.Unlock()

	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return nil, ErrNoChains
	}
	c := s.chains[s.order[s.rng.Intn(len(s.order))]]
	s.mu.Unlock()

	parent := c.TipIndex()
	forked := false
	count := s.payments.Load() + 1
	if s.opts.ForkEvery > 0 && count%uint64(s.opts.ForkEvery) == 0 && c.Len() > 1 {
		parent = s.rng.Intn(c.Len() - 1)
		forked = true
	}

	ownerKey, err := ledger.OwnerAt(c, parent)
	if err != nil {
		return nil, err
	}
	owner, err := s.registry.Get(ownerKey)
	if err != nil {
		return nil, err
	}

	holders := s.holders()
	var recipients []*dmidentity.Account
	for _, a := range holders {
		if a.PubKey != owner.PubKey {
			recipients = append(recipients, a)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipient
	}
	to := recipients[s.rng.Intn(len(recipients))]

	b, err := s.engine.AddTransferBlockAt(c, owner.PrivKey, to.PubKey, parent)
	if err != nil {
		s.failures.Add(1)
		return nil, fmt.Errorf("transfer serial %d: %w", c.Serial(), err)
	}
	if err := s.persist(c); err != nil {
		return nil, err
	}
	s.payments.Add(1)
	if forked {
		s.forks.Add(1)
	}

	p := &Payment{
		Serial:      c.Serial(),
		GenesisHash: c.GenesisHash(),
		BlockIndex:  c.Len() - 1,
		ParentIndex: b.ParentIndex,
		From:        owner.PubKey,
		To:          to.PubKey,
		NodeID:      s.announcerFor(owner),
		Forked:      forked,
	}

	text := fmt.Sprintf("Asset %d (%d) %s -> %s", c.Serial(), c.Denomination(), oid.Shorten(owner.PubKey), oid.Shorten(to.PubKey))
	p.MessageID, err = s.byID[p.NodeID].Broadcast(ctx, text)
	if err != nil {
		return p, fmt.Errorf("announce serial %d from %s: %w", c.Serial(), p.NodeID, err)
	}
	return p, nil
}

// announcerFor picks a random node the account is affiliated with, or any node if it has none.
func (s *Simulation) announcerFor(a *dmidentity.Account) string {
	var candidates []string
	for _, id := range a.NodeIDs {
		if _, ok := s.byID[id]; ok {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return s.nodes[s.rng.Intn(len(s.nodes))].ID()
	}
	sort.Strings(candidates)
	return candidates[s.rng.Intn(len(candidates))]
}

// Run starts every node and, if enabled, the payment loop. It returns when ctx is cancelled or a node fails.
func (s *Simulation) Run(ctx context.Context) error {
	defer s.relay.Close()

	wg, cctx := errgroup.WithContext(ctx)
	for _, n := range s.nodes {
		n := n
		wg.Go(func() error {
			return n.Run(cctx)
		})
	}

	if s.opts.PaymentInterval > 0 {
		interval := &timer.Interval{Duration: s.opts.PaymentInterval, Jitter: s.opts.PaymentInterval / 10}
		s.payMu.Lock()
		payRng := rand.New(rand.NewSource(s.rng.Int63()))
		s.payMu.Unlock()
		wg.Go(func() error {
			err := timer.RunWithTickerRand(cctx, interval, payRng, s.payOnce)
			if cctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return wg.Wait()
}

func (s *Simulation) payOnce(ctx context.Context) error {
	p, err := s.Pay(ctx)
	switch {
	case errors.Is(err, node.ErrNotRunning), errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		log.Warnf("Simulation: payment failed: %v", err)
		return nil
	}
	log.WithFields(log.Fields{
		"serial": p.Serial,
		"node":   p.NodeID,
		"forked": p.Forked,
	}).Debugf("Payment %s -> %s", oid.Shorten(p.From), oid.Shorten(p.To))
	return nil
}

func (s *Simulation) Nodes() []*node.Node {
	return append([]*node.Node(nil), s.nodes...)
}

func (s *Simulation) Node(id string) (*node.Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

func (s *Simulation) Relay() *relay.Relay {
	return s.relay
}

func (s *Simulation) Registry() *identity.Registry {
	return s.registry
}

func (s *Simulation) Issuer() *dmidentity.Account {
	return s.issuer.Clone()
}

// Chains returns the issued chains ordered by serial.
func (s *Simulation) Chains() []*ledger.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ledger.Chain, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.chains[h])
	}
	return out
}

// Summary is a mesh-wide snapshot.
type Summary struct {
	Nodes    int                  `json:"nodes"`
	Accounts int                  `json:"accounts"`
	Chains   int                  `json:"chains"`
	Forked   int                  `json:"forkedChains"`
	Payments uint64               `json:"payments"`
	Forks    uint64               `json:"forks"`
	Failures uint64               `json:"failures"`
	Metrics  node.MetricsSnapshot `json:"metrics"`
	Relay    relay.Stats          `json:"relay"`
}

func (s *Simulation) Summary() Summary {
	sum := Summary{
		Nodes:    len(s.nodes),
		Accounts: s.registry.Len(),
		Payments: s.payments.Load(),
		Forks:    s.forks.Load(),
		Failures: s.failures.Load(),
		Relay:    s.relay.Stats(),
	}
	for _, n := range s.nodes {
		sum.Metrics = sum.Metrics.Add(n.Metrics())
	}
	for _, c := range s.Chains() {
		sum.Chains++
		if c.IsForked() {
			sum.Forked++
		}
	}
	return sum
}
