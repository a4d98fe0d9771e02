// Package ledger builds and inspects banknote chains: hash-linked, per-asset ownership ledgers.
//
// Block data layouts (newline separated):
//
//	GENESIS:  <definition hash> <serial> <issuer public key>
//	TRANSFER: <recipient public key> <parent hash> <timestamp> TRANSFER
//
// A block hash is Digest(data ‖ signature). Genesis blocks carry no signature.
package ledger

import (
	"errors"
	"fmt"
	"meshledger/datamodel/chain"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyChain            = errors.New("ledger: chain has no blocks")
	ErrNotGenesis            = errors.New("ledger: first block is not a genesis block")
	ErrIndexOutOfRange       = errors.New("ledger: block index out of range")
	ErrParentIndexOutOfRange = errors.New("ledger: parent index out of range")
	ErrMalformedBlock        = errors.New("ledger: malformed block data")
	ErrDenominationMismatch  = errors.New("ledger: denomination does not match serial")
	ErrHashMismatch          = errors.New("ledger: block hash mismatch")
	ErrParentHashMismatch    = errors.New("ledger: parent hash mismatch")
	ErrBadSignature          = errors.New("ledger: bad signature")
)

const (
	fieldSep         = "\n"
	transferTag      = "TRANSFER"
	genesisFields    = 3
	transferFields   = 4
	genesisOwnerPos  = 2
	transferOwnerPos = 0
	parentHashPos    = 1
)

type Engine struct {
	digest Digest
	signer Signer
	now    func() time.Time
}

type Option func(*Engine)

func WithDigest(d Digest) Option {
	return func(e *Engine) { e.digest = d }
}

func WithSigner(s Signer) Option {
	return func(e *Engine) { e.signer = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine defaults to SHA-256 and the simulated signer.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		digest: SHA256,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.signer == nil {
		e.signer = NewSimulatedSigner(e.digest)
	}
	return e
}

func (e *Engine) Digest() Digest {
	return e.digest
}

func (e *Engine) Signer() Signer {
	return e.signer
}

// CreateGenesis builds the unsigned root block of a chain.
func (e *Engine) CreateGenesis(serial uint64, issuerPubKey string, definitionHash string) chain.Block {
	data := strings.Join([]string{definitionHash, strconv.FormatUint(serial, 10), issuerPubKey}, fieldSep)
	return chain.Block{
		Type:        chain.BlockTypeGenesis,
		Data:        data,
		Hash:        e.digest(data),
		ParentIndex: chain.NoParent,
	}
}

// Issue creates a new chain for serial owned by issuerPubKey.
func (e *Engine) Issue(serial uint64, issuerPubKey string, definitionHash string) *Chain {
	return &Chain{
		serial:       serial,
		denomination: Denomination(serial),
		blocks:       []chain.Block{e.CreateGenesis(serial, issuerPubKey, definitionHash)},
	}
}

// AddTransferBlock extends the current tip of c.
func (e *Engine) AddTransferBlock(c *Chain, senderPrivKey string, recipientPubKey string) (chain.Block, error) {
	return e.AddTransferBlockAt(c, senderPrivKey, recipientPubKey, c.TipIndex())
}

// AddTransferBlockAt extends the block at parentIndex, which may be any existing block.
// Naming a block that already has a child creates a fork.
func (e *Engine) AddTransferBlockAt(c *Chain, senderPrivKey string, recipientPubKey string, parentIndex int) (chain.Block, error) {
	parent, err := c.Block(parentIndex)
	if err != nil {
		return chain.Block{}, fmt.Errorf("%w: %d", ErrParentIndexOutOfRange, parentIndex)
	}

	ts := e.now().UTC().Format(time.RFC3339Nano)
	coreData := strings.Join([]string{recipientPubKey, parent.Hash, ts, transferTag}, fieldSep)

	sig, err := e.signer.Sign(coreData, senderPrivKey)
	if err != nil {
		return chain.Block{}, fmt.Errorf("sign transfer: %w", err)
	}

	b := chain.Block{
		Type:        chain.BlockTypeTransfer,
		Data:        coreData,
		Signature:   sig,
		Hash:        e.digest(coreData + sig),
		ParentIndex: parentIndex,
	}
	c.append(b)
	return b, nil
}

// VerifyChain checks the structure and hash links of every block. Transfer signatures are checked against the owner
// of the parent block when the signer supports public key verification.
func (e *Engine) VerifyChain(c *Chain) error {
	blocks := c.Blocks()
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	genesis := blocks[0]
	if genesis.Type != chain.BlockTypeGenesis {
		return ErrNotGenesis
	}
	fields := strings.Split(genesis.Data, fieldSep)
	if len(fields) != genesisFields {
		return fmt.Errorf("%w: genesis has %d fields", ErrMalformedBlock, len(fields))
	}
	if serial, err := strconv.ParseUint(fields[1], 10, 64); err != nil || serial != c.Serial() {
		return fmt.Errorf("%w: genesis serial %q does not match %d", ErrMalformedBlock, fields[1], c.Serial())
	}
	if e.digest(genesis.Data+genesis.Signature) != genesis.Hash {
		return fmt.Errorf("%w: block 0", ErrHashMismatch)
	}

	for i, b := range blocks[1:] {
		idx := i + 1
		if e.digest(b.Data+b.Signature) != b.Hash {
			return fmt.Errorf("%w: block %d", ErrHashMismatch, idx)
		}
		if b.ParentIndex < 0 || b.ParentIndex >= idx {
			return fmt.Errorf("%w: block %d names parent %d", ErrParentIndexOutOfRange, idx, b.ParentIndex)
		}
		parentHash, err := ParentHashOf(b)
		if err != nil {
			return fmt.Errorf("block %d: %w", idx, err)
		}
		parent := blocks[b.ParentIndex]
		if parentHash != parent.Hash {
			return fmt.Errorf("%w: block %d", ErrParentHashMismatch, idx)
		}

		sender, err := OwnerOf(parent)
		if err != nil {
			return fmt.Errorf("block %d: %w", b.ParentIndex, err)
		}
		ok, err := e.signer.Verify(b.Data, b.Signature, sender)
		if errors.Is(err, ErrVerifyUnsupported) {
			continue
		}
		if err != nil {
			return fmt.Errorf("block %d: %w", idx, err)
		}
		if !ok {
			return fmt.Errorf("%w: block %d", ErrBadSignature, idx)
		}
	}
	return nil
}

// OwnerOf returns the public key that owns the asset as of block b.
func OwnerOf(b chain.Block) (string, error) {
	fields := strings.Split(b.Data, fieldSep)
	switch b.Type {
	case chain.BlockTypeGenesis:
		if len(fields) != genesisFields {
			return "", fmt.Errorf("%w: genesis has %d fields", ErrMalformedBlock, len(fields))
		}
		return fields[genesisOwnerPos], nil
	case chain.BlockTypeTransfer:
		if len(fields) != transferFields || fields[transferFields-1] != transferTag {
			return "", fmt.Errorf("%w: transfer has %d fields", ErrMalformedBlock, len(fields))
		}
		return fields[transferOwnerPos], nil
	default:
		return "", fmt.Errorf("%w: unknown block type %q", ErrMalformedBlock, b.Type)
	}
}

func ParentHashOf(b chain.Block) (string, error) {
	if b.Type != chain.BlockTypeTransfer {
		return "", fmt.Errorf("%w: %s blocks have no parent", ErrMalformedBlock, b.Type)
	}
	fields := strings.Split(b.Data, fieldSep)
	if len(fields) != transferFields {
		return "", fmt.Errorf("%w: transfer has %d fields", ErrMalformedBlock, len(fields))
	}
	return fields[parentHashPos], nil
}

// CurrentOwner is the owner recorded by the last appended block. On a forked chain this is one branch only.
func CurrentOwner(c *Chain) (string, error) {
	return OwnerAt(c, c.TipIndex())
}

func OwnerAt(c *Chain, index int) (string, error) {
	b, err := c.Block(index)
	if err != nil {
		return "", err
	}
	return OwnerOf(b)
}

// Denomination maps a serial to its face value. Serials outside 1..500 have no denomination (0).
func Denomination(serial uint64) uint64 {
	switch {
	case serial == 0:
		return 0
	case serial <= 100:
		return 1
	case serial <= 200:
		return 5
	case serial <= 300:
		return 10
	case serial <= 400:
		return 20
	case serial <= 500:
		return 50
	default:
		return 0
	}
}
