package workload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/glomers/glomerstest/workload/config"
	"github.com/andydunstall/glomers/pkg/log"
)

func TestRunBroadcast(t *testing.T) {
	for _, topology := range []string{"line", "ring", "total", "tree", "tree3"} {
		t.Run(topology, func(t *testing.T) {
			conf := config.DefaultBroadcast()
			conf.Cluster.Nodes = 4
			conf.Cluster.Topology = topology
			conf.Cluster.GossipInterval = time.Millisecond * 20
			conf.Values = 20
			conf.Clients = 3
			require.NoError(t, conf.Validate())

			result, err := RunBroadcast(context.Background(), conf, log.NewNopLogger())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.Converged, result.Broadcast)
		})
	}

	t.Run("unknown topology", func(t *testing.T) {
		conf := config.DefaultBroadcast()
		conf.Cluster.Topology = "grid"

		_, err := RunBroadcast(context.Background(), conf, log.NewNopLogger())
		assert.EqualError(t, err, "unknown topology: grid")
	})
}
