// Package node implements a mesh peer: a bounded-degree overlay maintained by gossip and a flood-fill
// DATA broadcast with duplicate suppression. All node state is owned by a single loop goroutine;
// transport deliveries, ticks and API calls are posted onto it as closures.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"meshledger/helper/timer"
	"meshledger/net/relay"
	"meshledger/oid"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidOptions = errors.New("node: invalid options")
	ErrAlreadyRunning = errors.New("node: already running")
	ErrNotRunning     = errors.New("node: not running")
)

// Transport moves opaque payloads between node ids. *relay.Relay implements it.
type Transport interface {
	Register(id string, h relay.Handler) error
	Unregister(id string)
	Send(from string, to string, payload []byte) bool
	Announce(id string)
	Discover(id string, cb relay.DiscoveryFunc)
}

type Options struct {
	MinConn      int
	MaxConn      int
	DropChance   float64
	GossipSample int
	LogCapacity  int
	SeenCapacity int
	SeenTTL      time.Duration
	MailboxSize  int
	// MaxHops caps the hop count carried by relayed DATA. Zero means unlimited.
	MaxHops  uint32
	Tick     timer.Interval
	Announce timer.Interval

	Rand     *rand.Rand
	Now      func() time.Time
	Observer Observer
}

func DefaultOptions() Options {
	return Options{
		MinConn:      2,
		MaxConn:      5,
		DropChance:   0.05,
		GossipSample: 10,
		LogCapacity:  50,
		SeenCapacity: 4096,
		SeenTTL:      10 * time.Minute,
		MailboxSize:  1024,
		Tick:         timer.Interval{Duration: 2 * time.Second, Jitter: 200 * time.Millisecond},
		Announce:     timer.Interval{Duration: 10 * time.Second, Jitter: time.Second},
	}
}

func (o *Options) Validate() error {
	if o.MinConn < 0 || o.MaxConn < 1 || o.MinConn > o.MaxConn {
		return fmt.Errorf("%w: connection bounds min=%d max=%d", ErrInvalidOptions, o.MinConn, o.MaxConn)
	}
	if o.DropChance < 0 || o.DropChance > 1 {
		return fmt.Errorf("%w: drop chance %v", ErrInvalidOptions, o.DropChance)
	}
	if o.GossipSample < 0 || o.MailboxSize < 1 {
		return fmt.Errorf("%w: gossip sample %d, mailbox %d", ErrInvalidOptions, o.GossipSample, o.MailboxSize)
	}
	if err := o.Tick.Validate(); err != nil {
		return fmt.Errorf("%w: tick: %v", ErrInvalidOptions, err)
	}
	if o.Announce.Duration > 0 {
		if err := o.Announce.Validate(); err != nil {
			return fmt.Errorf("%w: announce: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

// State is a point-in-time copy of a node's view.
type State struct {
	ID          string          `json:"id"`
	Connected   []string        `json:"connected"`
	Known       []string        `json:"known"`
	Log         []Event         `json:"log"`
	LastMessage string          `json:"lastMessage,omitempty"`
	Seen        int             `json:"seen"`
	Metrics     MetricsSnapshot `json:"metrics"`
}

type Node struct {
	id        string
	opts      Options
	transport Transport
	observer  Observer
	rng       *rand.Rand
	tickRng   *rand.Rand
	metrics   Metrics

	mailbox chan func()
	running atomic.Bool
	stopped chan struct{}

	// Owned by the loop goroutine
	connected   map[string]struct{}
	known       map[string]struct{}
	seen        *seenCache
	events      *eventLog
	lastMessage string
}

// New creates a node that starts out knowing seeds. It does not touch the transport until Run.
func New(id string, transport Transport, seeds []string, opts Options) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty node id", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	n := &Node{
		id:        id,
		opts:      opts,
		transport: transport,
		observer:  observer,
		rng:       rng,
		tickRng:   rand.New(rand.NewSource(rng.Int63())),
		mailbox:   make(chan func(), opts.MailboxSize),
		stopped:   make(chan struct{}),
		connected: make(map[string]struct{}),
		known:     make(map[string]struct{}),
		seen:      newSeenCache(opts.SeenCapacity, opts.SeenTTL, opts.Now),
		events:    newEventLog(opts.LogCapacity),
	}
	n.learn(seeds...)
	return n, nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Metrics() MetricsSnapshot {
	return n.metrics.Snapshot()
}

// Run registers with the transport and processes messages and ticks until ctx is cancelled.
// A node runs at most once.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(n.stopped)

	if err := n.transport.Register(n.id, n.deliver); err != nil {
		return fmt.Errorf("register %s: %w", n.id, err)
	}
	defer n.transport.Unregister(n.id)

	n.transport.Discover(n.id, n.discovered)
	n.transport.Announce(n.id)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.loop(cctx)
	})

	wg.Go(func() error {
		return timer.RunWithTickerRand(cctx, &n.opts.Tick, n.tickRng, n.postTick)
	})

	if n.opts.Announce.Duration > 0 {
		announceRng := rand.New(rand.NewSource(n.tickRng.Int63()))
		wg.Go(func() error {
			return timer.RunWithTickerRand(cctx, &n.opts.Announce, announceRng, n.announce)
		})
	}

	err := wg.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (n *Node) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-n.mailbox:
			fn()
		}
	}
}

// post queues fn without blocking. Returns false if the mailbox is full.
func (n *Node) post(fn func()) bool {
	select {
	case n.mailbox <- fn:
		return true
	default:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (n *Node) do(ctx context.Context, fn func()) error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	select {
	case n.mailbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		return ErrNotRunning
	}
}

// deliver is the transport handler. It runs on a transport goroutine.
func (n *Node) deliver(from string, payload []byte) {
	if !n.post(func() { n.onReceive(from, payload) }) {
		n.metrics.mailboxDrops.Add(1)
		log.Debugf("node %s: mailbox full, dropped message from %s", oid.Shorten(n.id), oid.Shorten(from))
	}
}

func (n *Node) discovered(id string) {
	if id == n.id {
		return
	}
	if !n.post(func() { n.learn(id) }) {
		n.metrics.mailboxDrops.Add(1)
	}
}

func (n *Node) postTick(ctx context.Context) error {
	if err := n.do(ctx, n.tick); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (n *Node) announce(ctx context.Context) error {
	n.transport.Announce(n.id)
	return nil
}

// Broadcast floods text to the mesh and returns the message id.
func (n *Node) Broadcast(ctx context.Context, text string) (string, error) {
	var id string
	err := n.do(ctx, func() { id = n.broadcast(text) })
	return id, err
}

func (n *Node) Connect(ctx context.Context, peer string) (bool, error) {
	var ok bool
	err := n.do(ctx, func() { ok = n.connect(peer) })
	return ok, err
}

func (n *Node) Disconnect(ctx context.Context, peer string) (bool, error) {
	var ok bool
	err := n.do(ctx, func() { ok = n.disconnect(peer) })
	return ok, err
}

func (n *Node) State(ctx context.Context) (*State, error) {
	var st *State
	err := n.do(ctx, func() { st = n.state() })
	return st, err
}

func (n *Node) state() *State {
	return &State{
		ID:          n.id,
		Connected:   sortedKeys(n.connected),
		Known:       sortedKeys(n.known),
		Log:         n.events.newestFirst(),
		LastMessage: n.lastMessage,
		Seen:        n.seen.len(),
		Metrics:     n.metrics.Snapshot(),
	}
}

func (n *Node) logEvent(dir Direction, format string, args ...any) {
	e := Event{
		NodeID:    n.id,
		Timestamp: n.opts.Now(),
		Direction: dir,
		Content:   fmt.Sprintf(format, args...),
	}
	n.events.append(e)
	n.observer.OnEvent(e)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
