package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshledger/datamodel/chain"
	"meshledger/ledger"
	"meshledger/swarm/protocol"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

var ErrRejected = errors.New("chain rejected")

// PullResult summarizes one pull.
type PullResult struct {
	Received int // Records received
	Merged   int // Records written to the local store
	Kept     int // Records where the local copy was at least as long
	Rejected int // Records that failed verification
}

// Syncer pulls chains from remote nodes into a local store. Concurrent pulls from the same address are collapsed.
type Syncer struct {
	NodeID      string
	Store       chain.Store
	Engine      *ledger.Engine
	BatchSize   uint64
	CallTimeout time.Duration

	sg singleflight.Group
}

func NewSyncer(nodeID string, store chain.Store, engine *ledger.Engine) *Syncer {
	return &Syncer{
		NodeID:      nodeID,
		Store:       store,
		Engine:      engine,
		BatchSize:   DefaultBatchSize,
		CallTimeout: 5 * time.Second,
	}
}

func (s *Syncer) Pull(ctx context.Context, address string) (*PullResult, error) {
	v, err, shared := s.sg.Do(address, func() (any, error) {
		return s.pull(ctx, address)
	})
	if shared {
		log.Debugf("Pull(%s): joined a pull already in flight", address)
	}
	if err != nil {
		return nil, err
	}
	res := *v.(*PullResult)
	return &res, nil
}

func (s *Syncer) pull(ctx context.Context, address string) (*PullResult, error) {
	c, err := Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer c.Close()

	result := &PullResult{}
	var from uint64
	for {
		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		res, err := c.ChainSync(cctx, &protocol.ChainSyncRequest{
			NodeID:     s.NodeID,
			FromSerial: from,
			BatchSize:  s.BatchSize,
		})
		cancel()
		if err != nil {
			return result, fmt.Errorf("chain sync with %s: %w", address, err)
		}

		for _, r := range res.Chains {
			result.Received++
			written, err := s.Merge(r)
			switch {
			case errors.Is(err, ErrRejected):
				result.Rejected++
				log.Warnf("Pull(%s): rejected chain %s (serial %d): %v", address, r.GenesisHash(), r.Serial, err)
			case err != nil:
				return result, err
			case written:
				result.Merged++
			default:
				result.Kept++
			}
		}

		if res.NextSerial <= from || res.NextSerial > res.MaxSerial {
			break
		}
		from = res.NextSerial
	}

	log.Infof("Pull(%s): received %d chains, merged %d, kept %d, rejected %d", address, result.Received, result.Merged, result.Kept, result.Rejected)
	return result, nil
}

// Merge verifies r and stores it unless the local copy is at least as long.
func (s *Syncer) Merge(r *chain.Record) (bool, error) {
	c, err := ledger.ChainFromRecord(r)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := s.Engine.VerifyChain(c); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	_, written, err := s.Store.Put(r)
	if err != nil {
		return false, fmt.Errorf("store chain: %w", err)
	}
	return written, nil
}
