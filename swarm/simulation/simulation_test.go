package simulation

import (
	"context"
	"testing"
	"time"

	"meshledger/datastore/flatfs"
	"meshledger/helper/timer"
	"meshledger/ledger"
	"meshledger/swarm/node"

	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.NodeCount = 6
	opts.IdentityCount = 8
	opts.ChainCount = 12
	opts.PaymentInterval = 0
	opts.Seed = 42
	opts.Node.DropChance = 0
	opts.Node.Tick = timer.Interval{Duration: 10 * time.Millisecond, Jitter: 2 * time.Millisecond}
	opts.Node.Announce = timer.Interval{}
	opts.Relay.MinLatency = time.Millisecond
	opts.Relay.MaxLatency = 2 * time.Millisecond
	return opts
}

func newTestSimulation(t *testing.T, mod func(*Options)) (*Simulation, *flatfs.FlatFS) {
	t.Helper()
	store, err := flatfs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := testOptions()
	if mod != nil {
		mod(&opts)
	}
	s, err := New(opts, ledger.NewEngine(), store, nil)
	require.NoError(t, err)
	return s, store
}

func TestValidate(t *testing.T) {
	opts := testOptions()
	opts.NodeCount = 0
	_, err := New(opts, ledger.NewEngine(), nil, nil)
	require.ErrorIs(t, err, ErrInvalidOptions)

	opts = testOptions()
	opts.MaxAffiliations = 0
	require.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
}

func TestNewBuildsIdentities(t *testing.T) {
	s, _ := newTestSimulation(t, nil)

	require.Len(t, s.Nodes(), 6)
	require.Equal(t, NodeIDs(6), []string{"node-01", "node-02", "node-03", "node-04", "node-05", "node-06"})
	_, ok := s.Node("node-03")
	require.True(t, ok)

	require.Equal(t, 9, s.Registry().Len())
	for _, a := range s.Registry().AllAccounts() {
		require.NotEmpty(t, a.NodeIDs)
		require.LessOrEqual(t, len(a.NodeIDs), 3)
	}
	require.Equal(t, []string{"node-01"}, s.Issuer().NodeIDs)
}

func TestPayWithoutChains(t *testing.T) {
	s, _ := newTestSimulation(t, nil)
	_, err := s.Pay(context.Background())
	require.ErrorIs(t, err, ErrNoChains)
}

func TestIssueChains(t *testing.T) {
	s, store := newTestSimulation(t, nil)
	require.NoError(t, s.IssueChains())

	chains := s.Chains()
	require.Len(t, chains, 12)

	engine := ledger.NewEngine()
	issuer := s.Issuer()
	for i, c := range chains {
		require.Equal(t, uint64(i+1), c.Serial())
		require.Equal(t, 2, c.Len())
		require.NoError(t, engine.VerifyChain(c))

		genesisOwner, err := ledger.OwnerAt(c, 0)
		require.NoError(t, err)
		require.Equal(t, issuer.PubKey, genesisOwner)

		owner, err := ledger.CurrentOwner(c)
		require.NoError(t, err)
		require.NotEqual(t, issuer.PubKey, owner)
		_, err = s.Registry().Get(owner)
		require.NoError(t, err)

		stored, err := store.Get(c.GenesisHash())
		require.NoError(t, err)
		require.Equal(t, c.Record(), stored)
	}

	maxSerial, err := store.MaxSerial()
	require.NoError(t, err)
	require.Equal(t, uint64(12), maxSerial)
}

func TestForkedPaymentIsKeptWhenAnnouncementFails(t *testing.T) {
	s, store := newTestSimulation(t, func(o *Options) {
		o.ChainCount = 1
		o.ForkEvery = 1
	})
	require.NoError(t, s.IssueChains())

	// Nodes are not running, so the announcement fails after the transfer is recorded
	p, err := s.Pay(context.Background())
	require.ErrorIs(t, err, node.ErrNotRunning)
	require.NotNil(t, p)
	require.True(t, p.Forked)
	require.Equal(t, 0, p.ParentIndex)
	require.Equal(t, s.Issuer().PubKey, p.From)

	c := s.Chains()[0]
	require.True(t, c.IsForked())
	require.Equal(t, []int{1, 2}, c.Tips())
	require.NoError(t, ledger.NewEngine().VerifyChain(c))

	stored, err := store.Get(c.GenesisHash())
	require.NoError(t, err)
	require.Len(t, stored.Blocks, 3)

	sum := s.Summary()
	require.Equal(t, uint64(1), sum.Payments)
	require.Equal(t, uint64(1), sum.Forks)
	require.Equal(t, 1, sum.Forked)
}

func TestRunAnnouncesPayments(t *testing.T) {
	s, store := newTestSimulation(t, nil)
	require.NoError(t, s.IssueChains())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, n := range s.Nodes() {
			st, err := n.State(ctx)
			if err != nil || len(st.Connected) == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		p, err := s.Pay(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, p.MessageID)
		require.NotEqual(t, p.From, p.To)

		acct, err := s.Registry().Get(p.From)
		require.NoError(t, err)
		require.Contains(t, acct.NodeIDs, p.NodeID)

		stored, err := store.Get(p.GenesisHash)
		require.NoError(t, err)
		owner, err := ledger.OwnerOf(stored.Blocks[p.BlockIndex])
		require.NoError(t, err)
		require.Equal(t, p.To, owner)
	}

	require.Eventually(t, func() bool {
		return s.Summary().Metrics.Received >= 3
	}, 5*time.Second, 20*time.Millisecond)

	sum := s.Summary()
	require.Equal(t, uint64(3), sum.Payments)
	require.Equal(t, uint64(3), sum.Metrics.Broadcasts)
	require.Zero(t, sum.Metrics.Malformed)

	cancel()
	require.NoError(t, <-done)
}

func TestRunPaymentLoop(t *testing.T) {
	s, _ := newTestSimulation(t, func(o *Options) {
		o.PaymentInterval = 20 * time.Millisecond
	})
	require.NoError(t, s.IssueChains())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.Summary().Payments >= 5
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	engine := ledger.NewEngine()
	for _, c := range s.Chains() {
		require.NoError(t, engine.VerifyChain(c))
	}
}
