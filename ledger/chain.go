package ledger

import (
	"fmt"
	"meshledger/datamodel/chain"
	"slices"
	"sync"
)

// Chain is a banknote ledger: an append-only arena of blocks rooted at a genesis block.
// Blocks are never modified once appended. Appends that name the same parent produce a fork, which is kept.
type Chain struct {
	mu           sync.RWMutex
	serial       uint64
	denomination uint64
	blocks       []chain.Block
}

func NewChain(serial uint64, genesis chain.Block) (*Chain, error) {
	if genesis.Type != chain.BlockTypeGenesis {
		return nil, fmt.Errorf("%w: first block is %s", ErrNotGenesis, genesis.Type)
	}
	return &Chain{
		serial:       serial,
		denomination: Denomination(serial),
		blocks:       []chain.Block{genesis},
	}, nil
}

// ChainFromRecord rebuilds a chain from its persisted form. The structure is checked, hashes are not; see Engine.VerifyChain.
func ChainFromRecord(r *chain.Record) (*Chain, error) {
	if len(r.Blocks) == 0 {
		return nil, ErrEmptyChain
	}
	if r.Denomination != Denomination(r.Serial) {
		return nil, fmt.Errorf("%w: serial %d carries %d, expected %d", ErrDenominationMismatch, r.Serial, r.Denomination, Denomination(r.Serial))
	}
	c, err := NewChain(r.Serial, r.Blocks[0])
	if err != nil {
		return nil, err
	}
	for i, b := range r.Blocks[1:] {
		idx := i + 1
		if b.Type != chain.BlockTypeTransfer {
			return nil, fmt.Errorf("%w: block %d has type %s", ErrMalformedBlock, idx, b.Type)
		}
		if b.ParentIndex < 0 || b.ParentIndex >= idx {
			return nil, fmt.Errorf("%w: block %d names parent %d", ErrParentIndexOutOfRange, idx, b.ParentIndex)
		}
		c.blocks = append(c.blocks, b)
	}
	return c, nil
}

func (c *Chain) Serial() uint64 {
	return c.serial
}

func (c *Chain) Denomination() uint64 {
	return c.denomination
}

func (c *Chain) GenesisHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[0].Hash
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// TipIndex is the index of the last appended block.
func (c *Chain) TipIndex() int {
	return c.Len() - 1
}

func (c *Chain) Block(index int) (chain.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.blocks) {
		return chain.Block{}, fmt.Errorf("%w: %d (chain has %d blocks)", ErrIndexOutOfRange, index, len(c.blocks))
	}
	return c.blocks[index], nil
}

func (c *Chain) Blocks() []chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.blocks)
}

// Tips returns the indices of blocks that no other block extends. A chain with more than one tip is forked.
func (c *Chain) Tips() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	extended := make([]bool, len(c.blocks))
	for _, b := range c.blocks[1:] {
		extended[b.ParentIndex] = true
	}
	var tips []int
	for i, ext := range extended {
		if !ext {
			tips = append(tips, i)
		}
	}
	return tips
}

func (c *Chain) IsForked() bool {
	return len(c.Tips()) > 1
}

func (c *Chain) Record() *chain.Record {
	return &chain.Record{
		Serial:       c.serial,
		Denomination: c.denomination,
		Blocks:       c.Blocks(),
	}
}

func (c *Chain) append(b chain.Block) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, b)
	return len(c.blocks) - 1
}
