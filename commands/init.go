package commands

import (
	"context"

	"meshledger/config"
	"meshledger/oid"
)

// RunInit assigns a node id if the config has none and writes the config file.
func RunInit(ctx context.Context, cfg *config.Config) error {
	if cfg.Node.NodeID == nil {
		id, err := oid.Random(oid.OidTypeNode)
		if err != nil {
			return err
		}
		cfg.Node.NodeID = id
	}
	log.Infof("Node ID: %s", cfg.Node.NodeID.String())
	return cfg.Save()
}
