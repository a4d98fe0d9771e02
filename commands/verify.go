package commands

import (
	"context"
	"fmt"

	"meshledger/config"
	"meshledger/ledger"
	"meshledger/oid"
)

// RunVerify checks every stored chain and fails if any of them is invalid.
func RunVerify(ctx context.Context, cfg *config.Config) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	store, err := openChainStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Enumerate()
	if err != nil {
		return err
	}

	bad := 0
	for _, r := range records {
		c, err := ledger.ChainFromRecord(r)
		if err == nil {
			err = engine.VerifyChain(c)
		}
		if err != nil {
			bad++
			log.Errorf("Chain %s (serial %d): %v", oid.Shorten(r.GenesisHash()), r.Serial, err)
		}
	}

	log.Infof("Verified %d chains, %d invalid", len(records), bad)
	if bad > 0 {
		return fmt.Errorf("%d of %d chains failed verification", bad, len(records))
	}
	return nil
}
