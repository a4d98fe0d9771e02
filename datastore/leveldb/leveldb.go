// Package leveldb implements the chain.Store and identity.AccountIndex interfaces
package leveldb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

var ErrCorrupted = errors.New("corrupted")

type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func (l *LevelDB) Path() string {
	return l.path
}

func keyFromSerial(serial uint64) []byte {
	return append([]byte(keyPrefixSerial), []byte(fmt.Sprintf("%016x", serial))...)
}

func serialFromKey(key []byte) (uint64, error) {
	if len(key) < len(keyPrefixSerial)+16 {
		return 0, fmt.Errorf("serialFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixSerial)]) != keyPrefixSerial {
		return 0, fmt.Errorf("serialFromKey: invalid key prefix: %s", string(key[:len(keyPrefixSerial)]))
	}
	var serial uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixSerial):len(keyPrefixSerial)+16]), "%016x", &serial); err != nil {
		return 0, err
	}
	return serial, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if lerrors.IsCorrupted(err) {
		log.Warnf("LevelDB at %s is corrupted, recovering", path)
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
