package node

import (
	"meshledger/datamodel/message"
	"meshledger/oid"

	log "github.com/sirupsen/logrus"
)

// learn adds ids to the known set. Self is never known.
func (n *Node) learn(ids ...string) {
	for _, id := range ids {
		if id == "" || id == n.id {
			continue
		}
		n.known[id] = struct{}{}
	}
}

// connect links to peer unless it is self, already linked, or the node is at capacity.
func (n *Node) connect(peer string) bool {
	if peer == n.id || len(n.connected) >= n.opts.MaxConn {
		return false
	}
	if _, ok := n.connected[peer]; ok {
		return false
	}
	n.connected[peer] = struct{}{}
	n.learn(peer)
	n.metrics.connects.Add(1)
	n.logEvent(DirInfo, "Linked to %s", oid.Shorten(peer))
	return true
}

func (n *Node) disconnect(peer string) bool {
	if _, ok := n.connected[peer]; !ok {
		return false
	}
	delete(n.connected, peer)
	n.logEvent(DirInfo, "Link to %s dropped", oid.Shorten(peer))
	return true
}

// tick runs one round of overlay maintenance: a random link timeout, a top-up towards MinConn,
// and a gossip of known peers to one random neighbour.
func (n *Node) tick() {
	if len(n.connected) > 0 && n.rng.Float64() < n.opts.DropChance {
		victim := n.pick(sortedKeys(n.connected))
		delete(n.connected, victim)
		n.metrics.timeouts.Add(1)
		n.logEvent(DirOut, "Connection to %s timed out", oid.Shorten(victim))
	}

	if len(n.connected) < n.opts.MinConn {
		var candidates []string
		for _, id := range sortedKeys(n.known) {
			if _, ok := n.connected[id]; !ok {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) > 0 {
			peer := n.pick(candidates)
			n.logEvent(DirOut, "Auto-connecting to known peer %s", oid.Shorten(peer))
			n.connect(peer)
		}
	}

	if len(n.connected) > 0 {
		target := n.pick(sortedKeys(n.connected))
		n.sendGossip(target)
	}
}

func (n *Node) sendGossip(to string) {
	raw, err := message.Encode(message.NewGossip(n.id, n.gossipSample()))
	if err != nil {
		log.Errorf("node %s: failed to encode gossip: %v", oid.Shorten(n.id), err)
		return
	}
	if !n.transport.Send(n.id, to, raw) {
		n.metrics.unroutable.Add(1)
		return
	}
	n.metrics.gossipSent.Add(1)
}

// gossipSample draws up to GossipSample distinct known ids uniformly at random.
func (n *Node) gossipSample() []string {
	ids := sortedKeys(n.known)
	k := n.opts.GossipSample
	if len(ids) <= k {
		return ids
	}
	for i := 0; i < k; i++ {
		j := i + n.rng.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:k]
}

func (n *Node) pick(ids []string) string {
	return ids[n.rng.Intn(len(ids))]
}
