// Package message defines the mesh wire message. Messages cross node boundaries only in encoded form,
// so a receiving node never shares memory with the sender.
package message

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type Type string

const (
	TypeGossip Type = "GOSSIP" // Sample of the sender's known peers
	TypeData   Type = "DATA"   // Opaque content, flooded through the overlay

	// Upper bound for a decoded known-peer list. Gossip samples are far smaller than this.
	maxKnownPeers = 1024
)

var ErrMalformed = errors.New("malformed message")

type Payload struct {
	KnownPeers []string `cbor:"1,keyasint,omitempty" json:"knownPeers,omitempty"`
	Text       string   `cbor:"2,keyasint,omitempty" json:"text,omitempty"`
}

type Message struct {
	ID       string  `cbor:"1,keyasint,omitempty" json:"id"`
	Sender   string  `cbor:"2,keyasint,omitempty" json:"sender"`
	Type     Type    `cbor:"3,keyasint,omitempty" json:"type"`
	Payload  Payload `cbor:"4,keyasint" json:"payload"`
	HopCount uint32  `cbor:"5,keyasint,omitempty" json:"hopCount"`
}

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		MaxArrayElements: maxKnownPeers,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func NewGossip(sender string, knownPeers []string) *Message {
	return &Message{
		Sender:  sender,
		Type:    TypeGossip,
		Payload: Payload{KnownPeers: append([]string(nil), knownPeers...)},
	}
}

func NewData(id string, sender string, text string) *Message {
	return &Message{
		ID:      id,
		Sender:  sender,
		Type:    TypeData,
		Payload: Payload{Text: text},
	}
}

// Relayed returns a copy of the message with the hop count incremented. Sender keeps naming the originator.
func (m *Message) Relayed() *Message {
	out := *m
	out.HopCount = m.HopCount + 1
	out.Payload.KnownPeers = append([]string(nil), m.Payload.KnownPeers...)
	return &out
}

func Encode(m *Message) ([]byte, error) {
	return cbor.Marshal(m)
}

// Decode parses and validates a wire message. Any failure is reported as ErrMalformed.
func Decode(raw []byte) (*Message, error) {
	m := &Message{}
	if err := decMode.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m.Type {
	case TypeGossip:
	case TypeData:
		if m.ID == "" {
			return nil, fmt.Errorf("%w: DATA message without id", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}

	return m, nil
}
