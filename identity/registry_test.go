package identity

import (
	"errors"
	"path/filepath"
	"testing"

	"meshledger/datamodel/identity"
	"meshledger/datastore/leveldb"
	"meshledger/ledger"

	"github.com/stretchr/testify/require"
)

type failingKeys struct{}

func (failingKeys) GenerateKey() (string, string, error) {
	return "", "", errors.New("no entropy")
}

func TestCreateAndQuery(t *testing.T) {
	r, err := NewRegistry(ledger.NewSimulatedSigner(ledger.SHA256), nil)
	require.NoError(t, err)

	a, err := r.CreateIdentity("node-01", "node-02", "node-01")
	require.NoError(t, err)
	require.Equal(t, []string{"node-01", "node-02"}, a.NodeIDs)
	require.NotEqual(t, a.PubKey, a.PrivKey)

	b, err := r.CreateIdentity("node-02")
	require.NoError(t, err)
	_, err = r.CreateIdentity()
	require.NoError(t, err)

	require.Equal(t, 3, r.Len())
	require.Len(t, r.AllAccounts(), 3)

	on2 := r.AccountsForNode("node-02")
	require.Len(t, on2, 2)
	require.Equal(t, a.PubKey, on2[0].PubKey)
	require.Equal(t, b.PubKey, on2[1].PubKey)
	require.Empty(t, r.AccountsForNode("node-09"))

	require.NoError(t, r.Affiliate(b.PubKey, "node-09"))
	require.Len(t, r.AccountsForNode("node-09"), 1)

	err = r.Affiliate("unknown", "node-01")
	require.ErrorIs(t, err, identity.ErrAccountNotFound)
	_, err = r.Get("unknown")
	require.ErrorIs(t, err, identity.ErrAccountNotFound)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	r, err := NewRegistry(ledger.NewSimulatedSigner(ledger.SHA256), nil)
	require.NoError(t, err)
	a, err := r.CreateIdentity("node-01")
	require.NoError(t, err)

	a.NodeIDs[0] = "node-99"
	got, err := r.Get(a.PubKey)
	require.NoError(t, err)
	require.Equal(t, []string{"node-01"}, got.NodeIDs)
}

func TestKeyGenerationFailure(t *testing.T) {
	r, err := NewRegistry(failingKeys{}, nil)
	require.NoError(t, err)
	_, err = r.CreateIdentity("node-01")
	require.Error(t, err)
	require.Zero(t, r.Len())
}

func TestPersistsToAccountIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts")
	idx, err := leveldb.NewAccountIndex(path)
	require.NoError(t, err)

	r, err := NewRegistry(ledger.NewMLDSASigner(), idx)
	require.NoError(t, err)
	a, err := r.CreateIdentity("node-01")
	require.NoError(t, err)
	require.NoError(t, r.Affiliate(a.PubKey, "node-03"))
	require.NoError(t, idx.Close())

	idx, err = leveldb.NewAccountIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	reloaded, err := NewRegistry(ledger.NewMLDSASigner(), idx)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	got, err := reloaded.Get(a.PubKey)
	require.NoError(t, err)
	require.Equal(t, a.PrivKey, got.PrivKey)
	require.Equal(t, []string{"node-01", "node-03"}, got.NodeIDs)
}
