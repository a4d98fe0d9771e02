package chain

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func createTestRecord(blocks int) *Record {
	r := &Record{Serial: 42, Denomination: 1}
	r.Blocks = append(r.Blocks, Block{Type: BlockTypeGenesis, Data: "def\n42\nissuer", Hash: "g", ParentIndex: NoParent})
	for i := 1; i < blocks; i++ {
		r.Blocks = append(r.Blocks, Block{Type: BlockTypeTransfer, Data: "x", Signature: "s", Hash: "h", ParentIndex: i - 1})
	}
	return r
}

func TestRecordMarshallUnmarshall(t *testing.T) {
	r := createTestRecord(3)

	enc, err := cbor.Marshal(r)
	require.NoError(t, err)

	var r2 Record
	require.NoError(t, cbor.Unmarshal(enc, &r2))
	require.True(t, IsRecordEqual(r, &r2))
	require.Equal(t, NoParent, r2.Blocks[0].ParentIndex)
}

func TestGenesisHash(t *testing.T) {
	require.Equal(t, "g", createTestRecord(1).GenesisHash())
	require.Equal(t, "", (&Record{}).GenesisHash())
}

func TestSupersedes(t *testing.T) {
	short := createTestRecord(2)
	long := createTestRecord(3)

	require.True(t, Supersedes(nil, short))
	require.True(t, Supersedes(short, long))
	require.False(t, Supersedes(long, short))
	require.False(t, Supersedes(long, createTestRecord(3)))
}
