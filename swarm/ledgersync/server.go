// Package ledgersync exchanges banknote chains between stores over crpc. A puller merges what it receives by genesis hash;
// the longer block list wins.
package ledgersync

import (
	"context"
	"fmt"
	"math"
	"net"

	"meshledger/datamodel/chain"
	"meshledger/net/crpc"
	"meshledger/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize = 100
	MaxBatchSize     = 1000
)

// Ledger is the RPC service. Methods are addressed as "Ledger.<Method>".
type Ledger struct {
	nodeID string
	store  chain.Store
}

// RPC: ChainSync
func (l *Ledger) ChainSync(req *protocol.ChainSyncRequest, res *protocol.ChainSyncResponse) error {
	batch := req.BatchSize
	if batch == 0 {
		batch = DefaultBatchSize
	}
	batch = min(batch, MaxBatchSize)

	end := req.FromSerial + batch
	if end < req.FromSerial {
		end = math.MaxUint64
	}

	log.Debugf("Ledger.ChainSync from %s: serials [%d, %d)", req.NodeID, req.FromSerial, end)

	chains, err := l.store.EnumerateBySerial(req.FromSerial, end)
	if err != nil {
		return err
	}
	maxSerial, err := l.store.MaxSerial()
	if err != nil {
		return err
	}

	res.NodeID = l.nodeID
	res.Chains = chains
	res.NextSerial = end
	res.MaxSerial = maxSerial
	return nil
}

// RPC: ChainGet
func (l *Ledger) ChainGet(req *protocol.ChainGetRequest, res *protocol.ChainGetResponse) error {
	r, err := l.store.Get(req.GenesisHash)
	if err != nil {
		return err
	}
	res.Chain = r
	return nil
}

type Server struct {
	rpc *crpc.Server
}

func NewServer(listener net.Listener, nodeID string, store chain.Store) (*Server, error) {
	srv := crpc.NewServer(listener)
	if err := srv.Register(&Ledger{nodeID: nodeID, store: store}); err != nil {
		return nil, fmt.Errorf("register ledger service: %w", err)
	}
	log.Infof("Ledger sync service listening on %s", listener.Addr())
	return &Server{rpc: srv}, nil
}

func (s *Server) Addr() net.Addr {
	return s.rpc.Addr()
}

func (s *Server) Serve(ctx context.Context) error {
	return s.rpc.Serve(ctx)
}
