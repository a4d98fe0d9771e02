package node

import (
	"container/list"
	"time"
)

type seenEntry struct {
	id string
	ts time.Time
}

// seenCache remembers processed DATA ids. Entries expire after ttl and the least recently seen
// entry is evicted once capacity is reached. Not safe for concurrent use; owned by the node loop.
type seenCache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time
	items    map[string]*list.Element
	order    *list.List
}

func newSeenCache(capacity int, ttl time.Duration, now func() time.Time) *seenCache {
	if now == nil {
		now = time.Now
	}
	return &seenCache{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// add marks id as seen. Returns false if it was already present.
func (c *seenCache) add(id string) bool {
	now := c.now()
	c.pruneExpired(now)
	if el, ok := c.items[id]; ok {
		el.Value.(*seenEntry).ts = now
		c.order.MoveToFront(el)
		return false
	}
	c.items[id] = c.order.PushFront(&seenEntry{id: id, ts: now})
	for c.capacity > 0 && c.order.Len() > c.capacity {
		back := c.order.Back()
		delete(c.items, back.Value.(*seenEntry).id)
		c.order.Remove(back)
	}
	return true
}

func (c *seenCache) len() int {
	return c.order.Len()
}

func (c *seenCache) pruneExpired(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	cutoff := now.Add(-c.ttl)
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*seenEntry)
		if ent.ts.After(cutoff) {
			return
		}
		delete(c.items, ent.id)
		c.order.Remove(back)
	}
}
