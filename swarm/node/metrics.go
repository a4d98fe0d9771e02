package node

import "sync/atomic"

type MetricsSnapshot struct {
	Received      uint64 `json:"received"`
	Duplicates    uint64 `json:"duplicates"`
	Malformed     uint64 `json:"malformed"`
	Relayed       uint64 `json:"relayed"`
	Broadcasts    uint64 `json:"broadcasts"`
	GossipSent    uint64 `json:"gossipSent"`
	GossipRecv    uint64 `json:"gossipRecv"`
	Connects      uint64 `json:"connects"`
	Timeouts      uint64 `json:"timeouts"`
	MailboxDrops  uint64 `json:"mailboxDrops"`
	Unroutable    uint64 `json:"unroutable"`
	HopLimitDrops uint64 `json:"hopLimitDrops"`
}

type Metrics struct {
	received      atomic.Uint64
	duplicates    atomic.Uint64
	malformed     atomic.Uint64
	relayed       atomic.Uint64
	broadcasts    atomic.Uint64
	gossipSent    atomic.Uint64
	gossipRecv    atomic.Uint64
	connects      atomic.Uint64
	timeouts      atomic.Uint64
	mailboxDrops  atomic.Uint64
	unroutable    atomic.Uint64
	hopLimitDrops atomic.Uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Received:      m.received.Load(),
		Duplicates:    m.duplicates.Load(),
		Malformed:     m.malformed.Load(),
		Relayed:       m.relayed.Load(),
		Broadcasts:    m.broadcasts.Load(),
		GossipSent:    m.gossipSent.Load(),
		GossipRecv:    m.gossipRecv.Load(),
		Connects:      m.connects.Load(),
		Timeouts:      m.timeouts.Load(),
		MailboxDrops:  m.mailboxDrops.Load(),
		Unroutable:    m.unroutable.Load(),
		HopLimitDrops: m.hopLimitDrops.Load(),
	}
}

// Add sums two snapshots. Used for mesh-wide totals.
func (s MetricsSnapshot) Add(o MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		Received:      s.Received + o.Received,
		Duplicates:    s.Duplicates + o.Duplicates,
		Malformed:     s.Malformed + o.Malformed,
		Relayed:       s.Relayed + o.Relayed,
		Broadcasts:    s.Broadcasts + o.Broadcasts,
		GossipSent:    s.GossipSent + o.GossipSent,
		GossipRecv:    s.GossipRecv + o.GossipRecv,
		Connects:      s.Connects + o.Connects,
		Timeouts:      s.Timeouts + o.Timeouts,
		MailboxDrops:  s.MailboxDrops + o.MailboxDrops,
		Unroutable:    s.Unroutable + o.Unroutable,
		HopLimitDrops: s.HopLimitDrops + o.HopLimitDrops,
	}
}
