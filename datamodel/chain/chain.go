package chain

import (
	"errors"
	"reflect"
)

type BlockType string

const (
	BlockTypeGenesis  BlockType = "GENESIS"
	BlockTypeTransfer BlockType = "TRANSFER"

	// ParentIndex of a genesis block
	NoParent = -1
)

var ErrNotFound = errors.New("chain not found")

// Block is a single ledger entry. Data holds the signed fields, newline separated.
// Hash is a pure function of Data and Signature.
type Block struct {
	Type        BlockType `cbor:"1,keyasint" json:"type"`
	Data        string    `cbor:"2,keyasint,omitempty" json:"data"`
	Signature   string    `cbor:"3,keyasint,omitempty" json:"signature"`
	Hash        string    `cbor:"4,keyasint" json:"hash"`
	ParentIndex int       `cbor:"5,keyasint" json:"parentIndex"`
}

// Record is the persisted and synced form of a banknote chain.
// Blocks is an arena: ParentIndex may point at any earlier entry, so the blocks form a tree rooted at index 0.
type Record struct {
	Serial       uint64  `cbor:"1,keyasint" json:"serial"`
	Denomination uint64  `cbor:"2,keyasint" json:"denomination"`
	Blocks       []Block `cbor:"3,keyasint" json:"blocks"`
}

// GenesisHash identifies a chain across nodes. Empty if the record has no blocks.
func (r *Record) GenesisHash() string {
	if len(r.Blocks) == 0 {
		return ""
	}
	return r.Blocks[0].Hash
}

// Supersedes reports whether incoming should replace existing. The longer block list wins; on a tie the existing record is kept.
func Supersedes(existing *Record, incoming *Record) bool {
	if existing == nil {
		return true
	}
	return len(incoming.Blocks) > len(existing.Blocks)
}

func IsRecordEqual(a *Record, b *Record) bool {
	return reflect.DeepEqual(a, b)
}

// Store defines the interface for persisting banknote chains.
type Store interface {
	// Get retrieves a chain by the hash of its genesis block.
	// It returns ErrNotFound if the chain is unknown.
	Get(genesisHash string) (*Record, error)

	// Put stores a chain unless an existing record with the same genesis hash supersedes it.
	// It returns the record that is stored after the call and whether the incoming record was written.
	Put(*Record) (*Record, bool, error)

	// EnumerateBySerial returns all chains with serial in [start, end), ordered by serial.
	EnumerateBySerial(start uint64, end uint64) ([]*Record, error)

	// Enumerate returns all stored chains, ordered by serial.
	Enumerate() ([]*Record, error)

	// MaxSerial returns the highest stored serial, or 0 for an empty store.
	MaxSerial() (uint64, error)

	// Close releases any resources held by the store.
	Close() error
}
