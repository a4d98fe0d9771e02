package node

import (
	"meshledger/datamodel/message"
	"meshledger/oid"

	log "github.com/sirupsen/logrus"
)

// onReceive handles one payload delivered by the transport. Malformed input is counted and dropped.
func (n *Node) onReceive(from string, raw []byte) {
	msg, err := message.Decode(raw)
	if err != nil {
		n.metrics.malformed.Add(1)
		log.Debugf("node %s: dropped message from %s: %v", oid.Shorten(n.id), oid.Shorten(from), err)
		return
	}

	switch msg.Type {
	case message.TypeGossip:
		n.metrics.gossipRecv.Add(1)
		n.learn(msg.Payload.KnownPeers...)
		n.learn(from)
		if _, ok := n.connected[from]; !ok && len(n.connected) < n.opts.MinConn {
			n.connect(from)
		}

	case message.TypeData:
		if !n.seen.add(msg.ID) {
			n.metrics.duplicates.Add(1)
			return
		}
		n.metrics.received.Add(1)
		n.lastMessage = msg.Payload.Text
		n.logEvent(DirIn, "Broadcast: %s (hops: %d) [id: %s]", msg.Payload.Text, msg.HopCount, oid.Shorten(msg.ID))

		if n.opts.MaxHops > 0 && msg.HopCount+1 > n.opts.MaxHops {
			n.metrics.hopLimitDrops.Add(1)
			return
		}
		n.metrics.relayed.Add(uint64(n.send(msg.Relayed(), from, msg.Sender)))
	}
}

// broadcast originates a DATA message and returns its id.
func (n *Node) broadcast(text string) string {
	id := n.newMessageID()
	n.seen.add(id)
	n.metrics.broadcasts.Add(1)
	n.logEvent(DirOut, "Initiating broadcast: %s", text)
	n.send(message.NewData(id, n.id, text))
	return id
}

// send encodes msg once and hands it to every connected peer not in exclude. Returns the number of peers reached.
func (n *Node) send(msg *message.Message, exclude ...string) int {
	raw, err := message.Encode(msg)
	if err != nil {
		log.Errorf("node %s: failed to encode message %s: %v", oid.Shorten(n.id), oid.Shorten(msg.ID), err)
		return 0
	}

	sent := 0
next:
	for _, peer := range sortedKeys(n.connected) {
		for _, x := range exclude {
			if peer == x {
				continue next
			}
		}
		if n.transport.Send(n.id, peer, raw) {
			sent++
		} else {
			n.metrics.unroutable.Add(1)
		}
	}
	return sent
}

func (n *Node) newMessageID() string {
	id, err := oid.RandomFrom(oid.OidTypeMessage, n.rng)
	if err != nil {
		// *rand.Rand never fails to read
		panic(err)
	}
	return id.String()
}
