package leveldb

import (
	"fmt"
	"path/filepath"
	"testing"

	"meshledger/datamodel/chain"
	"meshledger/datamodel/identity"

	"github.com/stretchr/testify/require"
)

func createTestRecord(serial uint64, genesisHash string, blocks int) *chain.Record {
	r := &chain.Record{Serial: serial, Denomination: 1}
	r.Blocks = append(r.Blocks, chain.Block{
		Type:        chain.BlockTypeGenesis,
		Data:        fmt.Sprintf("def\n%d\nissuer", serial),
		Hash:        genesisHash,
		ParentIndex: chain.NoParent,
	})
	for i := 1; i < blocks; i++ {
		r.Blocks = append(r.Blocks, chain.Block{
			Type:        chain.BlockTypeTransfer,
			Data:        fmt.Sprintf("owner-%d", i),
			Signature:   "sig",
			Hash:        fmt.Sprintf("%s-%d", genesisHash, i),
			ParentIndex: i - 1,
		})
	}
	return r
}

func newTestChainIndex(t *testing.T) *ChainIndex {
	t.Helper()
	ci, err := NewChainIndex(filepath.Join(t.TempDir(), "chains"))
	require.NoError(t, err)
	t.Cleanup(func() { ci.Close() })
	return ci
}

func TestChainIndexPutGet(t *testing.T) {
	ci := newTestChainIndex(t)

	_, err := ci.Get("missing")
	require.ErrorIs(t, err, chain.ErrNotFound)

	r := createTestRecord(7, "g7", 2)
	stored, written, err := ci.Put(r)
	require.NoError(t, err)
	require.True(t, written)
	require.True(t, chain.IsRecordEqual(r, stored))

	got, err := ci.Get("g7")
	require.NoError(t, err)
	require.True(t, chain.IsRecordEqual(r, got))
}

func TestChainIndexLongerWins(t *testing.T) {
	ci := newTestChainIndex(t)

	_, _, err := ci.Put(createTestRecord(1, "g1", 3))
	require.NoError(t, err)

	stored, written, err := ci.Put(createTestRecord(1, "g1", 2))
	require.NoError(t, err)
	require.False(t, written)
	require.Len(t, stored.Blocks, 3)

	_, written, err = ci.Put(createTestRecord(1, "g1", 3))
	require.NoError(t, err)
	require.False(t, written)

	_, written, err = ci.Put(createTestRecord(1, "g1", 5))
	require.NoError(t, err)
	require.True(t, written)

	all, err := ci.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Blocks, 5)
}

func TestChainIndexEnumerateBySerial(t *testing.T) {
	ci := newTestChainIndex(t)

	maxSerial, err := ci.MaxSerial()
	require.NoError(t, err)
	require.Equal(t, uint64(0), maxSerial)

	for _, s := range []uint64{300, 5, 42, 17, 256} {
		_, _, err := ci.Put(createTestRecord(s, fmt.Sprintf("g%d", s), 1))
		require.NoError(t, err)
	}
	// A second chain sharing a serial
	_, _, err = ci.Put(createTestRecord(42, "other", 1))
	require.NoError(t, err)

	rs, err := ci.EnumerateBySerial(17, 256)
	require.NoError(t, err)
	var serials []uint64
	for _, r := range rs {
		serials = append(serials, r.Serial)
	}
	require.Equal(t, []uint64{17, 42, 42}, serials)

	all, err := ci.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 6)
	require.Equal(t, uint64(5), all[0].Serial)

	maxSerial, err = ci.MaxSerial()
	require.NoError(t, err)
	require.Equal(t, uint64(300), maxSerial)

	_, err = ci.EnumerateBySerial(10, 5)
	require.Error(t, err)
}

func TestChainIndexPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains")
	ci, err := NewChainIndex(path)
	require.NoError(t, err)
	_, _, err = ci.Put(createTestRecord(9, "g9", 4))
	require.NoError(t, err)
	require.NoError(t, ci.Close())

	ci, err = NewChainIndex(path)
	require.NoError(t, err)
	defer ci.Close()
	got, err := ci.Get("g9")
	require.NoError(t, err)
	require.Len(t, got.Blocks, 4)
}

func TestChainIndexRejectsEmptyRecord(t *testing.T) {
	ci := newTestChainIndex(t)
	_, _, err := ci.Put(&chain.Record{Serial: 1})
	require.Error(t, err)
}

func TestSerialKeyRoundTrip(t *testing.T) {
	s, err := serialFromKey(serialKey(0xdeadbeef, "hash"))
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), s)

	_, err = serialFromKey([]byte("SER12"))
	require.Error(t, err)
}

func TestAccountIndex(t *testing.T) {
	ai, err := NewAccountIndex(filepath.Join(t.TempDir(), "accounts"))
	require.NoError(t, err)
	defer ai.Close()

	_, err = ai.Get("nobody")
	require.ErrorIs(t, err, identity.ErrAccountNotFound)

	a := &identity.Account{PubKey: "pk-a", PrivKey: "sk-a", NodeIDs: []string{"node-01"}}
	require.NoError(t, ai.Put(a))
	require.NoError(t, ai.Put(&identity.Account{PubKey: "pk-b", PrivKey: "sk-b"}))

	got, err := ai.Get("pk-a")
	require.NoError(t, err)
	require.Equal(t, a, got)

	a.NodeIDs = append(a.NodeIDs, "node-02")
	require.NoError(t, ai.Put(a))

	all, err := ai.Enumerate()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []string{"node-01", "node-02"}, all[0].NodeIDs)
}
