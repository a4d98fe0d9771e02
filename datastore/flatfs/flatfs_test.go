package flatfs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"meshledger/datamodel/chain"

	"github.com/stretchr/testify/require"
)

func createTestRecord(serial uint64, genesisHash string, blocks int) *chain.Record {
	r := &chain.Record{Serial: serial, Denomination: 1}
	r.Blocks = append(r.Blocks, chain.Block{Type: chain.BlockTypeGenesis, Data: "genesis", Hash: genesisHash, ParentIndex: chain.NoParent})
	for i := 1; i < blocks; i++ {
		r.Blocks = append(r.Blocks, chain.Block{Type: chain.BlockTypeTransfer, Data: "t", Hash: fmt.Sprint(i), ParentIndex: i - 1})
	}
	return r
}

func TestPutGet(t *testing.T) {
	f, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = f.Get("nope")
	require.ErrorIs(t, err, chain.ErrNotFound)

	// Hashes are base64 and may contain path separators
	r := createTestRecord(3, "ab/cd+ef==", 2)
	_, written, err := f.Put(r)
	require.NoError(t, err)
	require.True(t, written)

	got, err := f.Get("ab/cd+ef==")
	require.NoError(t, err)
	require.True(t, chain.IsRecordEqual(r, got))
}

func TestLongerWins(t *testing.T) {
	f, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = f.Put(createTestRecord(1, "g", 3))
	require.NoError(t, err)
	stored, written, err := f.Put(createTestRecord(1, "g", 1))
	require.NoError(t, err)
	require.False(t, written)
	require.Len(t, stored.Blocks, 3)

	_, written, err = f.Put(createTestRecord(1, "g", 4))
	require.NoError(t, err)
	require.True(t, written)
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir)
	require.NoError(t, err)

	for _, s := range []uint64{9, 2, 5} {
		_, _, err := f.Put(createTestRecord(s, fmt.Sprintf("g%d", s), 1))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray"), []byte("x"), 0644))

	all, err := f.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(2), all[0].Serial)
	require.Equal(t, uint64(9), all[2].Serial)

	some, err := f.EnumerateBySerial(3, 9)
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.Equal(t, uint64(5), some[0].Serial)

	maxSerial, err := f.MaxSerial()
	require.NoError(t, err)
	require.Equal(t, uint64(9), maxSerial)
}
