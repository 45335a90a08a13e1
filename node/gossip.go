package node

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/pkg/log"
)

// Gossiper periodically pushes the full set of known values to each of the
// local nodes neighbors.
//
// There is no tracking of what each neighbor has already seen, so each round
// sends every known value. Values converge across the cluster as long as the
// topology is connected.
type Gossiper struct {
	state     *State
	transport Transport

	interval time.Duration

	metrics *Metrics

	logger log.Logger

	closed     *atomic.Bool
	shutdownCh chan struct{}
}

func NewGossiper(
	state *State,
	transport Transport,
	interval time.Duration,
	metrics *Metrics,
	logger log.Logger,
) *Gossiper {
	return &Gossiper{
		state:      state,
		transport:  transport,
		interval:   interval,
		metrics:    metrics,
		logger:     logger.WithSubsystem("gossip"),
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
	}
}

// Run gossips at the configured interval until closed.
//
// A failed round is fatal, so Run returns the error and stops gossiping.
func (g *Gossiper) Run() error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Don't start another round if closed while waiting.
			select {
			case <-g.shutdownCh:
				return nil
			default:
			}

			if err := g.round(); err != nil {
				return fmt.Errorf("gossip: %w", err)
			}
		case <-g.shutdownCh:
			return nil
		}
	}
}

// Close stops gossiping. A round that is already in progress completes.
func (g *Gossiper) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		// Already closed.
		return
	}
	close(g.shutdownCh)
}

func (g *Gossiper) round() error {
	sent, err := g.state.Gossip(g.transport)
	if err != nil {
		return err
	}

	g.metrics.GossipRounds.Inc()
	g.metrics.GossipMessagesOutbound.Add(float64(sent))

	g.logger.Debug("gossip round", zap.Int("sent", sent))

	return nil
}
