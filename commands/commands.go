// Package commands implements the meshledger subcommands.
package commands

import (
	"fmt"

	"meshledger/config"
	"meshledger/datamodel/chain"
	"meshledger/datastore/flatfs"
	"meshledger/datastore/leveldb"
	"meshledger/helper/timer"
	"meshledger/ledger"
	"meshledger/net/relay"
	"meshledger/swarm/node"
	"meshledger/swarm/simulation"

	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// openChainStore opens the chain store selected by the datastore backend.
func openChainStore(cfg *config.Config) (chain.Store, error) {
	switch cfg.DataStore.Backend {
	case config.BackendFlatFS:
		fs, err := flatfs.New(cfg.DataStore.ChainPath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.BackendLevelDB:
		ci, err := leveldb.NewChainIndex(cfg.DataStore.ChainPath)
		if err != nil {
			return nil, err
		}
		return ci, nil
	default:
		return nil, fmt.Errorf("%w: unknown datastore backend %q", config.ErrInvalidConfig, cfg.DataStore.Backend)
	}
}

func newEngine(cfg *config.Config) (*ledger.Engine, error) {
	digest, err := ledger.DigestByName(cfg.Ledger.Digest)
	if err != nil {
		return nil, err
	}
	signer, err := ledger.SignerByName(cfg.Ledger.Signer, digest)
	if err != nil {
		return nil, err
	}
	return ledger.NewEngine(ledger.WithDigest(digest), ledger.WithSigner(signer)), nil
}

func nodeOptions(cfg *config.Config) node.Options {
	m := &cfg.Mesh
	opts := node.DefaultOptions()
	opts.MinConn = m.MinConnections
	opts.MaxConn = m.MaxConnections
	opts.DropChance = m.DropChance
	opts.GossipSample = m.GossipSample
	opts.LogCapacity = m.LogCapacity
	opts.SeenCapacity = m.SeenCapacity
	opts.SeenTTL = m.SeenTTL.Std()
	opts.MailboxSize = m.MailboxSize
	opts.MaxHops = m.MaxHops
	opts.Tick = timer.Interval{Duration: m.TickInterval.Std(), Jitter: m.TickJitter.Std()}
	opts.Announce = timer.Interval{Duration: m.AnnounceInterval.Std(), Jitter: m.AnnounceInterval.Std() / 10}
	return opts
}

func simulationOptions(cfg *config.Config) simulation.Options {
	opts := simulation.DefaultOptions()
	opts.NodeCount = cfg.Mesh.NodeCount
	opts.SeedsPerNode = cfg.Mesh.SeedsPerNode
	opts.Seed = cfg.Mesh.Seed
	opts.IdentityCount = cfg.Ledger.IdentityCount
	opts.MaxAffiliations = cfg.Ledger.MaxAffiliations
	opts.ChainCount = cfg.Ledger.ChainCount
	opts.DefinitionHash = cfg.Ledger.DefinitionHash
	opts.PaymentInterval = cfg.Ledger.PaymentInterval.Std()
	opts.ForkEvery = cfg.Ledger.ForkEvery
	opts.Node = nodeOptions(cfg)
	opts.Relay = relay.Options{
		MinLatency:  cfg.Relay.MinLatency.Std(),
		MaxLatency:  cfg.Relay.MaxLatency.Std(),
		PresenceTTL: cfg.Relay.PresenceTTL.Std(),
	}
	return opts
}
