package commands

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"meshledger/config"
	"meshledger/datastore/leveldb"
	"meshledger/oid"
	"meshledger/swarm/simulation"
)

// RunSimulate runs the mesh and the payment loop for duration, or the configured simulation length if duration is
// zero, then prints a summary.
func RunSimulate(ctx context.Context, cfg *config.Config, duration time.Duration) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	store, err := openChainStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	accounts, err := leveldb.NewAccountIndex(cfg.DataStore.AccountPath)
	if err != nil {
		return err
	}
	defer accounts.Close()

	sim, err := simulation.New(simulationOptions(cfg), engine, store, accounts)
	if err != nil {
		return err
	}
	if err := sim.IssueChains(); err != nil {
		return err
	}

	if duration == 0 {
		duration = cfg.Ledger.SimulationLength.Std()
	}
	log.Infof("Running simulation for %v", duration)

	rctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	if err := sim.Run(rctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	summary := sim.Summary()
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	log.Infof("Simulation summary:\n%s", out)
	logNodeMetrics(sim)
	return nil
}

func logNodeMetrics(sim *simulation.Simulation) {
	for _, n := range sim.Nodes() {
		m := n.Metrics()
		log.WithField("node", oid.Shorten(n.ID())).Infof("received %d, duplicates %d, relayed %d, connects %d, timeouts %d",
			m.Received, m.Duplicates, m.Relayed, m.Connects, m.Timeouts)
	}
}
