// Package flatfs implements the chain.Store interface on a plain directory tree
package flatfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"meshledger/datamodel/chain"
	"meshledger/oid"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Do an indirection to make sure FlatFS implements the required interfaces
var _ chain.Store = (*FlatFS)(nil)

// FlatFS stores one CBOR encoded chain record per file.
// File name is the chain OID, derived from the genesis hash. Four characters of the OID following the shared header
// are used as a subdirectory.
type FlatFS struct {
	basePath string
	mu       sync.Mutex
}

func New(basePath string) (*FlatFS, error) {
	// Sanitize the basePath
	basePath = filepath.Clean(basePath)

	// Make sure the directory exists and create if missing
	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened FlatFS at %s", basePath)

	return &FlatFS{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// chainPath converts a genesis hash to its directory and file path.
func (f *FlatFS) chainPath(genesisHash string) (dirPath string, filePath string) {
	oidStr := oid.FromContent(oid.OidTypeChain, []byte(genesisHash)).String()
	dirPath = filepath.Join(f.basePath, oidStr[5:9])
	filePath = filepath.Join(dirPath, oidStr)
	return dirPath, filePath
}

func (f *FlatFS) Get(genesisHash string) (*chain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(genesisHash)
}

func (f *FlatFS) get(genesisHash string) (*chain.Record, error) {
	_, filePath := f.chainPath(genesisHash)
	r, err := readRecord(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", chain.ErrNotFound, genesisHash)
	}
	if err != nil {
		return nil, err
	}
	if r.GenesisHash() != genesisHash {
		return nil, fmt.Errorf("%s: genesis hash mismatch", filePath)
	}
	return r, nil
}

func readRecord(filePath string) (*chain.Record, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	r := &chain.Record{}
	if err := cbor.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return r, nil
}

func (f *FlatFS) Put(r *chain.Record) (*chain.Record, bool, error) {
	genesisHash := r.GenesisHash()
	if genesisHash == "" {
		return nil, false, fmt.Errorf("put: record for serial %d has no genesis block", r.Serial)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.get(genesisHash)
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		return nil, false, err
	}
	if !chain.Supersedes(existing, r) {
		return existing, false, nil
	}

	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, false, err
	}

	dirPath, filePath := f.chainPath(genesisHash)
	if err := ensureDir(dirPath); err != nil {
		return nil, false, err
	}

	// Write to a temporary file and rename so readers never see a partial record
	tmp, err := os.CreateTemp(dirPath, ".tmp-*")
	if err != nil {
		return nil, false, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, false, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, false, err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return nil, false, err
	}

	return r, true, nil
}

// Enumerate scans the directory structure and decodes every chain file, ordered by serial.
// Entries that don't conform to the expected structure are logged and skipped.
func (f *FlatFS) Enumerate() ([]*chain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []*chain.Record

	shardDirEntries, err := os.ReadDir(f.basePath)
	if err != nil {
		log.Errorf("Error reading base path %s for enumeration: %v", f.basePath, err)
		return nil, err
	}

	for _, shardDirEntry := range shardDirEntries {
		if !shardDirEntry.IsDir() {
			log.Warnf("Skipping non-directory entry in FlatFS base path during enumeration: %s", filepath.Join(f.basePath, shardDirEntry.Name()))
			continue
		}

		shardPath := filepath.Join(f.basePath, shardDirEntry.Name())
		chainFileEntries, err := os.ReadDir(shardPath)
		if err != nil {
			log.Errorf("Error reading shard directory %s during enumeration: %v", shardPath, err)
			return nil, err
		}

		for _, entry := range chainFileEntries {
			if entry.IsDir() {
				log.Warnf("Skipping unexpected subdirectory in shard %s during enumeration: %s", shardPath, entry.Name())
				continue
			}
			if _, err := oid.FromString(entry.Name()); err != nil {
				log.Warnf("Skipping file %s in shard %s during enumeration, not a valid OID: %v", entry.Name(), shardPath, err)
				continue
			}
			r, err := readRecord(filepath.Join(shardPath, entry.Name()))
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Serial != records[j].Serial {
			return records[i].Serial < records[j].Serial
		}
		return records[i].GenesisHash() < records[j].GenesisHash()
	})
	return records, nil
}

func (f *FlatFS) EnumerateBySerial(start uint64, end uint64) ([]*chain.Record, error) {
	if start > end {
		return nil, fmt.Errorf("EnumerateBySerial: invalid range: start (%d) > end (%d)", start, end)
	}
	all, err := f.Enumerate()
	if err != nil {
		return nil, err
	}
	var out []*chain.Record
	for _, r := range all {
		if r.Serial >= start && r.Serial < end {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FlatFS) MaxSerial() (uint64, error) {
	all, err := f.Enumerate()
	if err != nil || len(all) == 0 {
		return 0, err
	}
	return all[len(all)-1].Serial, nil
}

func (f *FlatFS) Close() error {
	return nil
}
