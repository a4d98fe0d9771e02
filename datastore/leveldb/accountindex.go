package leveldb

import (
	"errors"
	"fmt"

	"meshledger/datamodel/identity"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	keyPrefixAccount = "ACC" // Account indexed by public key. Followed by the public key
)

var _ identity.AccountIndex = (*AccountIndex)(nil)

type AccountIndex struct {
	LevelDB
}

func NewAccountIndex(path string) (*AccountIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &AccountIndex{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromPubKey(pubKey string) []byte {
	return append([]byte(keyPrefixAccount), []byte(pubKey)...)
}

func (l *AccountIndex) Get(pubKey string) (*identity.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromPubKey(pubKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", identity.ErrAccountNotFound, pubKey)
	}
	if err != nil {
		return nil, err
	}

	a := &identity.Account{}
	if err := cbor.Unmarshal(raw, a); err != nil {
		return nil, err
	}
	if a.PubKey != pubKey {
		return nil, ErrCorrupted
	}
	return a, nil
}

func (l *AccountIndex) Put(a *identity.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(a)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromPubKey(a.PubKey), raw, nil)
}

func (l *AccountIndex) Enumerate() ([]*identity.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixAccount)), nil)
	defer iter.Release()

	var results []*identity.Account
	for iter.Next() {
		a := &identity.Account{}
		if err := cbor.Unmarshal(iter.Value(), a); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return results, nil
}
