package leveldb

import (
	"errors"
	"fmt"

	"meshledger/datamodel/chain"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixChain  = "CHN" // Chain record indexed by genesis hash. Followed by the genesis hash
	keyPrefixSerial = "SER" // Secondary index. Followed by a 16-digit hexadecimal serial and the genesis hash; value is the genesis hash
)

var _ chain.Store = (*ChainIndex)(nil)

type ChainIndex struct {
	LevelDB
}

func NewChainIndex(path string) (*ChainIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &ChainIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromGenesis(genesisHash string) []byte {
	return append([]byte(keyPrefixChain), []byte(genesisHash)...)
}

func serialKey(serial uint64, genesisHash string) []byte {
	return append(keyFromSerial(serial), []byte(genesisHash)...)
}

func (l *ChainIndex) Get(genesisHash string) (*chain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(genesisHash)
}

func (l *ChainIndex) get(genesisHash string) (*chain.Record, error) {
	raw, err := l.db.Get(keyFromGenesis(genesisHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", chain.ErrNotFound, genesisHash)
	}
	if err != nil {
		return nil, err
	}

	r := &chain.Record{}
	if err := cbor.Unmarshal(raw, r); err != nil {
		return nil, err
	}

	// Compare the genesis hash just in case
	if r.GenesisHash() != genesisHash {
		log.Errorf("Get: genesis hash mismatch: %s != %s", genesisHash, r.GenesisHash())
		return nil, ErrCorrupted
	}

	return r, nil
}

func (l *ChainIndex) Put(r *chain.Record) (*chain.Record, bool, error) {
	genesisHash := r.GenesisHash()
	if genesisHash == "" {
		return nil, false, fmt.Errorf("put: record for serial %d has no genesis block", r.Serial)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.get(genesisHash)
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		return nil, false, err
	}
	if !chain.Supersedes(existing, r) {
		log.Debugf("Put: chain %s (serial %d) is not longer than the stored one, skipping update", genesisHash, r.Serial)
		return existing, false, nil
	}

	raw, err := cbor.Marshal(r)
	if err != nil {
		return nil, false, err
	}

	// Create a batch for atomic update
	batch := new(leveldb.Batch)
	if existing != nil && existing.Serial != r.Serial {
		batch.Delete(serialKey(existing.Serial, genesisHash))
	}
	batch.Put(keyFromGenesis(genesisHash), raw)
	batch.Put(serialKey(r.Serial, genesisHash), []byte(genesisHash))

	if err := l.db.Write(batch, nil); err != nil {
		return nil, false, err
	}

	return r, true, nil
}

func (l *ChainIndex) EnumerateBySerial(start uint64, end uint64) ([]*chain.Record, error) {
	if start > end {
		return nil, fmt.Errorf("EnumerateBySerial: invalid range: start (%d) > end (%d)", start, end)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enumerate(&util.Range{Start: keyFromSerial(start), Limit: keyFromSerial(end)})
}

func (l *ChainIndex) Enumerate() ([]*chain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enumerate(util.BytesPrefix([]byte(keyPrefixSerial)))
}

func (l *ChainIndex) enumerate(rng *util.Range) ([]*chain.Record, error) {
	iter := l.db.NewIterator(rng, nil)
	defer iter.Release()

	var results []*chain.Record
	for iter.Next() {
		r, err := l.get(string(iter.Value()))
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return results, nil
}

func (l *ChainIndex) MaxSerial() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixSerial)), nil)
	defer iter.Release()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return serialFromKey(iter.Key())
}
