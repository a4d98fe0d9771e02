// Package relay implements an in-process message relay between node ids.
// Send: the payload is framed as a CBOR header followed by the raw body and delivered after a simulated latency.
// Register: a node id is bound to a handler that receives decoded frames.
// Announce/Discover: a presence lobby; announcements younger than the presence TTL are reported to discovery callbacks.
package relay

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("relay: closed")

// Handler receives a delivered payload. It runs on a relay goroutine and must not block.
type Handler func(from string, payload []byte)

type DiscoveryFunc func(id string)

type FrameHeader struct {
	From string `cbor:"1,keyasint,omitempty"`
	To   string `cbor:"2,keyasint,omitempty"`
	Sent int64  `cbor:"3,keyasint,omitempty"`
}

type Options struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	PresenceTTL time.Duration
	Rand        *rand.Rand
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MinLatency:  50 * time.Millisecond,
		MaxLatency:  200 * time.Millisecond,
		PresenceTTL: 30 * time.Second,
	}
}

type Stats struct {
	Sent        uint64
	Delivered   uint64
	Unroutable  uint64
	Undelivered uint64
	Corrupted   uint64
}

type Relay struct {
	opts Options

	mu        sync.RWMutex
	handlers  map[string]Handler
	lobby     map[string]time.Time
	listeners map[string]DiscoveryFunc
	closed    bool

	rngMu sync.Mutex
	rng   *rand.Rand

	pending sync.WaitGroup

	sent        atomic.Uint64
	delivered   atomic.Uint64
	unroutable  atomic.Uint64
	undelivered atomic.Uint64
	corrupted   atomic.Uint64
}

func New(opts Options) *Relay {
	if opts.MaxLatency < opts.MinLatency {
		opts.MaxLatency = opts.MinLatency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Relay{
		opts:     opts,
		handlers:  make(map[string]Handler),
		lobby:     make(map[string]time.Time),
		listeners: make(map[string]DiscoveryFunc),
		rng:      rng,
	}
}

// Register binds id to h, replacing any previous handler.
func (r *Relay) Register(id string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.handlers[id] = h
	log.Debugf("relay: registered %s", id)
	return nil
}

func (r *Relay) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
	delete(r.lobby, id)
	delete(r.listeners, id)
}

func (r *Relay) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// Send schedules delivery of payload to the handler registered for to. It never blocks on the recipient.
// Returns false when to is not registered; there is no retry.
func (r *Relay) Send(from string, to string, payload []byte) bool {
	r.mu.RLock()
	_, ok := r.handlers[to]
	closed := r.closed
	r.mu.RUnlock()
	if closed || !ok {
		r.unroutable.Add(1)
		return false
	}

	frame, err := encodeFrame(&FrameHeader{From: from, To: to, Sent: r.opts.Now().UnixNano()}, payload)
	if err != nil {
		log.Errorf("relay: failed to frame message %s -> %s: %v", from, to, err)
		return false
	}

	r.sent.Add(1)
	r.pending.Add(1)
	time.AfterFunc(r.latency(), func() {
		defer r.pending.Done()
		r.deliver(frame)
	})
	return true
}

func (r *Relay) deliver(frame []byte) {
	hdr, body, err := decodeFrame(frame)
	if err != nil {
		r.corrupted.Add(1)
		log.Errorf("relay: failed to decode frame: %v", err)
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[hdr.To]
	closed := r.closed
	r.mu.RUnlock()
	if closed || !ok {
		// Recipient went away while the frame was in flight
		r.undelivered.Add(1)
		return
	}

	r.delivered.Add(1)
	h(hdr.From, body)
}

func (r *Relay) latency() time.Duration {
	span := r.opts.MaxLatency - r.opts.MinLatency
	if span <= 0 {
		return r.opts.MinLatency
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.opts.MinLatency + time.Duration(r.rng.Int63n(int64(span)))
}

// Announce records id in the presence lobby and notifies discovery listeners.
func (r *Relay) Announce(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.lobby[id] = r.opts.Now()
	listeners := make([]DiscoveryFunc, 0, len(r.listeners))
	for _, cb := range r.listeners {
		listeners = append(listeners, cb)
	}
	r.mu.Unlock()

	for _, cb := range listeners {
		cb(id)
	}
}

// Discover registers cb under id for future announcements and replays the ids currently present.
// A later Discover for the same id replaces cb; Unregister removes it.
func (r *Relay) Discover(id string, cb DiscoveryFunc) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.listeners[id] = cb
	present := r.presentLocked()
	r.mu.Unlock()

	for _, id := range present {
		cb(id)
	}
}

// Present lists ids announced within the presence TTL.
func (r *Relay) Present() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presentLocked()
}

func (r *Relay) presentLocked() []string {
	now := r.opts.Now()
	var ids []string
	for id, at := range r.lobby {
		if r.opts.PresenceTTL <= 0 || now.Sub(at) < r.opts.PresenceTTL {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Relay) Stats() Stats {
	return Stats{
		Sent:        r.sent.Load(),
		Delivered:   r.delivered.Load(),
		Unroutable:  r.unroutable.Load(),
		Undelivered: r.undelivered.Load(),
		Corrupted:   r.corrupted.Load(),
	}
}

// Drain waits until every frame in flight has been delivered or dropped.
func (r *Relay) Drain() {
	r.pending.Wait()
}

// Close stops routing. Frames still in flight are dropped on arrival.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.listeners = make(map[string]DiscoveryFunc)
	return nil
}

func encodeFrame(hdr *FrameHeader, body []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(hdr); err != nil {
		return nil, err
	}
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrame(frame []byte) (*FrameHeader, []byte, error) {
	dec := cbor.NewDecoder(bytes.NewReader(frame))
	hdr := &FrameHeader{}
	if err := dec.Decode(hdr); err != nil {
		return nil, nil, err
	}
	var body []byte
	if err := dec.Decode(&body); err != nil {
		return nil, nil, err
	}
	return hdr, body, nil
}
