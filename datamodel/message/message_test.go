package message

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeData(t *testing.T) {
	m := NewData("msg-1", "A", "Asset 1234 flowed")
	m.HopCount = 3

	raw, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x13})
	require.ErrorIs(t, err, ErrMalformed)

	raw, err := cbor.Marshal(&Message{ID: "x", Sender: "A", Type: "PING"})
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)

	raw, err = cbor.Marshal(&Message{Sender: "A", Type: TypeData})
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsOversizedGossip(t *testing.T) {
	peers := make([]string, maxKnownPeers+1)
	for i := range peers {
		peers[i] = "p"
	}
	raw, err := Encode(NewGossip("A", peers))
	require.NoError(t, err)

	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestRelayedCopies(t *testing.T) {
	m := NewGossip("A", []string{"B", "C"})
	r := m.Relayed()

	require.Equal(t, uint32(1), r.HopCount)
	require.Equal(t, "A", r.Sender)
	require.Equal(t, uint32(0), m.HopCount)
	require.Equal(t, uint32(2), r.Relayed().HopCount)

	r.Payload.KnownPeers[0] = "Z"
	require.Equal(t, "B", m.Payload.KnownPeers[0])
}

func TestNewGossipCopiesInput(t *testing.T) {
	known := []string{"B"}
	m := NewGossip("A", known)
	known[0] = "Z"
	require.Equal(t, []string{"B"}, m.Payload.KnownPeers)
}

func TestJSONShape(t *testing.T) {
	raw, err := json.Marshal(NewData("id-1", "A", "hello"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"id-1","sender":"A","type":"DATA","payload":{"text":"hello"},"hopCount":0}`, string(raw))
}
