package commands

import (
	"context"

	"meshledger/config"
	"meshledger/datastore/leveldb"
	"meshledger/ledger"
	"meshledger/oid"
)

// RunInfo lists the stored chains and accounts.
func RunInfo(ctx context.Context, cfg *config.Config) error {
	store, err := openChainStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Enumerate()
	if err != nil {
		return err
	}
	maxSerial, err := store.MaxSerial()
	if err != nil {
		return err
	}
	log.Infof("Chain store (%s): %d chains known, max serial %d", cfg.DataStore.Backend, len(records), maxSerial)

	for _, r := range records {
		c, err := ledger.ChainFromRecord(r)
		if err != nil {
			log.Errorf("Chain %s: %v", oid.Shorten(r.GenesisHash()), err)
			continue
		}
		owner, err := ledger.CurrentOwner(c)
		if err != nil {
			log.Errorf("Chain %s: %v", oid.Shorten(r.GenesisHash()), err)
			continue
		}
		log.Infof("Chain: serial %d, value %d, blocks %d, forked %t, owner %s",
			c.Serial(), c.Denomination(), c.Len(), c.IsForked(), oid.Shorten(owner))
	}

	accounts, err := leveldb.NewAccountIndex(cfg.DataStore.AccountPath)
	if err != nil {
		return err
	}
	defer accounts.Close()

	all, err := accounts.Enumerate()
	if err != nil {
		return err
	}
	log.Infof("Account index: %d accounts known", len(all))
	for _, a := range all {
		log.Infof("Account: %s, nodes: %v", oid.Shorten(a.PubKey), a.NodeIDs)
	}
	return nil
}
