package workload

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/glomers/glomerstest/cluster"
	"github.com/andydunstall/glomers/glomerstest/workload/config"
	"github.com/andydunstall/glomers/pkg/log"
)

type BroadcastResult struct {
	// Broadcast is the time to broadcast all values.
	Broadcast time.Duration `json:"broadcast"`

	// Converged is the time from the first broadcast until every node knows
	// every value.
	Converged time.Duration `json:"converged"`
}

// RunBroadcast starts a cluster, broadcasts the configured values from
// concurrent clients to random nodes, then waits for every node to know
// every value.
//
// Returns an error if the cluster doesn't converge within the configured
// timeout.
func RunBroadcast(
	ctx context.Context,
	conf *config.BroadcastConfig,
	logger log.Logger,
) (*BroadcastResult, error) {
	topology, err := cluster.ParseTopology(conf.Cluster.Topology)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()

	c, err := cluster.NewCluster(
		ctx,
		cluster.WithNodes(conf.Cluster.Nodes),
		cluster.WithTopology(topology),
		cluster.WithGossipInterval(conf.Cluster.GossipInterval),
		cluster.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	defer c.Close()

	logger = logger.WithSubsystem("workload")

	nodeIDs := c.NodeIDs()

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i != conf.Clients; i++ {
		g.Go(func() error {
			client := c.NewClient()
			defer client.Close()

			// Each client broadcasts a disjoint subset of values.
			for v := i; v < conf.Values; v += conf.Clients {
				nodeID := nodeIDs[rand.Intn(len(nodeIDs))]
				if err := client.Broadcast(gctx, nodeID, uint64(v)); err != nil {
					return fmt.Errorf("broadcast: %w", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	broadcast := time.Since(start)

	logger.Info(
		"broadcast complete",
		zap.Int("values", conf.Values),
		zap.Duration("elapsed", broadcast),
	)

	values := make([]uint64, 0, conf.Values)
	for v := 0; v != conf.Values; v++ {
		values = append(values, uint64(v))
	}
	if err := c.WaitConverged(ctx, values); err != nil {
		return nil, err
	}

	converged := time.Since(start)

	logger.Info(
		"cluster converged",
		zap.Int("nodes", conf.Cluster.Nodes),
		zap.Duration("elapsed", converged),
	)

	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}

	return &BroadcastResult{
		Broadcast: broadcast,
		Converged: converged,
	}, nil
}
