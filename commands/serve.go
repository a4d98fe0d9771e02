package commands

import (
	"context"
	"errors"
	"net"

	"meshledger/config"
	"meshledger/helper/timer"
	"meshledger/net/mpubsub"
	"meshledger/swarm/ledgersync"

	"golang.org/x/sync/errgroup"
)

// RunServe serves the local chain store over crpc and periodically pulls from the configured and announced peers.
func RunServe(ctx context.Context, cfg *config.Config) error {
	if cfg.Node.NodeID == nil {
		return errors.New("node id not set, run init first")
	}
	nodeID := cfg.Node.NodeID.String()

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	store, err := openChainStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	l, err := net.Listen("tcp4", cfg.Network.SyncListenAddress)
	if err != nil {
		return err
	}
	srv, err := ledgersync.NewServer(l, nodeID, store)
	if err != nil {
		l.Close()
		return err
	}
	address := srv.Addr().String()

	syncer := ledgersync.NewSyncer(nodeID, store, engine)
	peers := ledgersync.NewPeerTable(nil)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return srv.Serve(cctx)
	})

	if cfg.Network.AnnounceGroup != "" {
		ps, err := mpubsub.JoinGroup(cfg.Network.AnnounceGroup, nodeID)
		if err != nil {
			return err
		}
		defer ps.Close()
		if err := ps.Register(peers.Beacon()); err != nil {
			return err
		}

		wg.Go(func() error {
			return ps.Listen(cctx)
		})
		wg.Go(func() error {
			interval := &timer.Interval{Duration: cfg.Network.AnnounceInterval.Std(), Jitter: cfg.Network.AnnounceInterval.Std() / 10}
			return timer.RunWithTicker(cctx, interval, func(ctx context.Context) error {
				if err := ledgersync.Announce(ps, nodeID, address, store); err != nil {
					log.Warnf("Announce failed: %v", err)
				}
				return nil
			})
		})
	}

	wg.Go(func() error {
		interval := &timer.Interval{Duration: cfg.Network.SyncInterval.Std(), Jitter: cfg.Network.SyncInterval.Std() / 10}
		return timer.RunWithTicker(cctx, interval, func(ctx context.Context) error {
			addrs := append([]string(nil), cfg.Network.SyncPeers...)
			for _, p := range peers.Peers(cfg.Network.PeerTTL.Std()) {
				addrs = append(addrs, p.Address)
			}
			total := syncer.PullAll(ctx, addrs)
			log.Infof("Sync round over %d peers: merged %d, rejected %d", len(addrs), total.Merged, total.Rejected)
			return nil
		})
	})

	log.Infof("Serving ledger for node %s on %s", nodeID, address)
	if err := wg.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
