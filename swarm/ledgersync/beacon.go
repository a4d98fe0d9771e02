package ledgersync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meshledger/datamodel/chain"
	"meshledger/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// AnnounceMethod is the pubsub address of Beacon.Announce.
const AnnounceMethod = "Beacon.Announce"

type Publisher interface {
	Publish(serviceMethod string, args any) error
}

type PeerInfo struct {
	NodeID    string
	Address   string
	MaxSerial uint64
	Chains    uint64
	LastSeen  time.Time
}

// PeerTable remembers the sync endpoints announced by other nodes.
type PeerTable struct {
	mu    sync.Mutex
	now   func() time.Time
	peers map[string]PeerInfo
}

func NewPeerTable(now func() time.Time) *PeerTable {
	if now == nil {
		now = time.Now
	}
	return &PeerTable{
		now:   now,
		peers: make(map[string]PeerInfo),
	}
}

// Beacon returns the pubsub subscriber that feeds this table.
func (t *PeerTable) Beacon() *Beacon {
	return &Beacon{table: t}
}

func (t *PeerTable) observe(a *protocol.SyncAnnouncement) {
	if a.NodeID == "" || a.Address == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[a.NodeID]; !ok {
		log.Infof("Discovered ledger peer %s at %s (max serial %d)", a.NodeID, a.Address, a.MaxSerial)
	}
	t.peers[a.NodeID] = PeerInfo{
		NodeID:    a.NodeID,
		Address:   a.Address,
		MaxSerial: a.MaxSerial,
		Chains:    a.Chains,
		LastSeen:  t.now(),
	}
}

// Peers returns peers seen within ttl, sorted by node id, and forgets the rest. A zero ttl keeps everything.
func (t *PeerTable) Peers(ttl time.Duration) []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]PeerInfo, 0, len(t.peers))
	for id, p := range t.peers {
		if ttl > 0 && now.Sub(p.LastSeen) > ttl {
			delete(t.peers, id)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Beacon is registered with a pubsub; its only handler is Announce.
type Beacon struct {
	table *PeerTable
}

func (b *Beacon) Announce(a *protocol.SyncAnnouncement) {
	b.table.observe(a)
}

// Announce publishes the local sync endpoint together with a summary of store.
func Announce(p Publisher, nodeID string, address string, store chain.Store) error {
	maxSerial, err := store.MaxSerial()
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	records, err := store.Enumerate()
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	return p.Publish(AnnounceMethod, &protocol.SyncAnnouncement{
		NodeID:    nodeID,
		Address:   address,
		MaxSerial: maxSerial,
		Chains:    uint64(len(records)),
	})
}

// PullAll pulls from every address in turn. Failures are logged and do not stop the round.
func (s *Syncer) PullAll(ctx context.Context, addresses []string) PullResult {
	var total PullResult
	for _, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Pull(ctx, addr)
		if err != nil {
			log.Warnf("Pull from %s failed: %v", addr, err)
			continue
		}
		total.Received += res.Received
		total.Merged += res.Merged
		total.Kept += res.Kept
		total.Rejected += res.Rejected
	}
	return total
}
