package cluster

import (
	"time"

	"github.com/andydunstall/glomers/pkg/log"
)

type options struct {
	nodes          int
	topology       TopologyFunc
	gossipInterval time.Duration
	logger         log.Logger
}

type nodesOption int

func (o nodesOption) apply(opts *options) {
	opts.nodes = int(o)
}

// WithNodes configures the number of nodes in the cluster. Defaults to 3.
func WithNodes(nodes int) Option {
	return nodesOption(nodes)
}

type topologyOption struct {
	Topology TopologyFunc
}

func (o topologyOption) apply(opts *options) {
	opts.topology = o.Topology
}

// WithTopology configures the topology sent to each node. Defaults to a
// total topology.
func WithTopology(topology TopologyFunc) Option {
	return topologyOption{Topology: topology}
}

type gossipIntervalOption time.Duration

func (o gossipIntervalOption) apply(opts *options) {
	opts.gossipInterval = time.Duration(o)
}

// WithGossipInterval configures the node gossip interval. Defaults to 50ms.
func WithGossipInterval(interval time.Duration) Option {
	return gossipIntervalOption(interval)
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

// WithLogger configures the logger. Defaults to no output.
func WithLogger(logger log.Logger) Option {
	return loggerOption{Logger: logger}
}

type Option interface {
	apply(*options)
}
