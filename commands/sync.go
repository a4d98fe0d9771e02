package commands

import (
	"context"
	"errors"

	"meshledger/config"
	"meshledger/swarm/ledgersync"
)

// RunSync pulls once from each address, or from the configured sync peers if none are given.
func RunSync(ctx context.Context, cfg *config.Config, addresses []string) error {
	if len(addresses) == 0 {
		addresses = cfg.Network.SyncPeers
	}
	if len(addresses) == 0 {
		return errors.New("no sync peers given")
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	store, err := openChainStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	nodeID := ""
	if cfg.Node.NodeID != nil {
		nodeID = cfg.Node.NodeID.String()
	}
	total := ledgersync.NewSyncer(nodeID, store, engine).PullAll(ctx, addresses)
	log.Infof("Sync: received %d, merged %d, kept %d, rejected %d", total.Received, total.Merged, total.Kept, total.Rejected)
	return nil
}
