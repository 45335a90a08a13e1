package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/glomers/pkg/log"
)

type ClusterConfig struct {
	// Nodes is the number of nodes in the cluster.
	Nodes int `json:"nodes" yaml:"nodes"`

	// Topology is the name of the topology to send to each node.
	Topology string `json:"topology" yaml:"topology"`

	// GossipInterval is the node gossip interval.
	GossipInterval time.Duration `json:"gossip_interval" yaml:"gossip_interval"`
}

func (c *ClusterConfig) Validate() error {
	if c.Nodes <= 0 {
		return fmt.Errorf("invalid nodes: %d", c.Nodes)
	}
	if c.Topology == "" {
		return fmt.Errorf("missing topology")
	}
	if c.GossipInterval <= 0 {
		return fmt.Errorf("missing gossip interval")
	}
	return nil
}

type BroadcastConfig struct {
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Values is the number of unique values to broadcast.
	Values int `json:"values" yaml:"values"`

	// Clients is the number of clients broadcasting concurrently.
	Clients int `json:"clients" yaml:"clients"`

	// Timeout is the maximum time to broadcast all values and wait for the
	// cluster to converge.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Log log.Config `json:"log" yaml:"log"`
}

func DefaultBroadcast() *BroadcastConfig {
	return &BroadcastConfig{
		Cluster: ClusterConfig{
			Nodes:          5,
			Topology:       "tree",
			GossipInterval: time.Millisecond * 100,
		},
		Values:  100,
		Clients: 4,
		Timeout: time.Second * 10,
		Log: log.Config{
			Level:  "info",
			Output: "stderr",
		},
	}
}

func (c *BroadcastConfig) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if c.Values < 0 {
		return fmt.Errorf("invalid values: %d", c.Values)
	}
	if c.Clients <= 0 {
		return fmt.Errorf("invalid clients: %d", c.Clients)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("missing timeout")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *BroadcastConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.Cluster.Nodes,
		"nodes",
		c.Cluster.Nodes,
		`
The number of nodes in the cluster.`,
	)
	fs.StringVar(
		&c.Cluster.Topology,
		"topology",
		c.Cluster.Topology,
		`
The topology to send to each node. Either 'line', 'ring', 'total', 'tree'
or 'tree<fanout>', such as 'tree4'. 'tree' has a fanout of 2.`,
	)
	fs.DurationVar(
		&c.Cluster.GossipInterval,
		"gossip.interval",
		c.Cluster.GossipInterval,
		`
The interval each node gossips its known values to its neighbors.`,
	)
	fs.IntVar(
		&c.Values,
		"values",
		c.Values,
		`
The number of unique values to broadcast.`,
	)
	fs.IntVar(
		&c.Clients,
		"clients",
		c.Clients,
		`
The number of clients broadcasting concurrently. Each client broadcasts
each of its values to a random node.`,
	)
	fs.DurationVar(
		&c.Timeout,
		"timeout",
		c.Timeout,
		`
The maximum time to broadcast all values and for every node to learn every
value.`,
	)

	c.Log.RegisterFlags(fs)
}
