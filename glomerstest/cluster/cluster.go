package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/node"
	"github.com/andydunstall/glomers/pkg/backoff"
	"github.com/andydunstall/glomers/pkg/log"
	"github.com/andydunstall/glomers/pkg/protocol"
)

// Cluster runs a set of nodes in-process and routes messages between them.
//
// Each node is initialized and sent its topology when the cluster is
// created. Clients send requests to nodes using NewClient.
type Cluster struct {
	nodes []*Node

	// nodesByID is immutable after creation.
	nodesByID map[string]*Node

	topology map[string][]string

	gossipInterval time.Duration

	clients map[string]*Client

	// mu protects the above fields.
	mu sync.Mutex

	// ready is set once all nodes are initialized. Until then frames
	// between nodes are dropped, since a node fails if it receives a
	// message before init.
	ready *atomic.Bool

	closed *atomic.Bool

	logger log.Logger
}

// NewCluster starts a cluster, then sends each node init and topology
// messages. Returns an error if any node fails to initialize.
func NewCluster(ctx context.Context, opts ...Option) (*Cluster, error) {
	options := options{
		nodes:          3,
		topology:       Total,
		gossipInterval: time.Millisecond * 50,
		logger:         log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	if options.nodes <= 0 {
		return nil, fmt.Errorf("invalid nodes: %d", options.nodes)
	}

	conf := node.DefaultConfig()
	conf.Gossip.Interval = options.gossipInterval

	var nodeIDs []string
	for i := 0; i != options.nodes; i++ {
		nodeIDs = append(nodeIDs, fmt.Sprintf("n%d", i))
	}

	c := &Cluster{
		nodesByID:      make(map[string]*Node),
		topology:       options.topology(nodeIDs),
		gossipInterval: options.gossipInterval,
		clients:        make(map[string]*Client),
		ready:          atomic.NewBool(false),
		closed:         atomic.NewBool(false),
		logger:         options.logger.WithSubsystem("cluster"),
	}
	for _, id := range nodeIDs {
		n := newNode(id, conf, c.route, options.logger)
		c.nodes = append(c.nodes, n)
		c.nodesByID[id] = n
	}
	for _, n := range c.nodes {
		n.start()
	}

	if err := c.bootstrap(ctx, nodeIDs); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.ready.Store(true)

	c.logger.Info(
		"cluster started",
		zap.Strings("nodes", nodeIDs),
		zap.Any("topology", c.topology),
	)

	return c, nil
}

func (c *Cluster) Nodes() []*Node {
	return append([]*Node(nil), c.nodes...)
}

func (c *Cluster) NodeIDs() []string {
	var ids []string
	for _, n := range c.nodes {
		ids = append(ids, n.ID())
	}
	return ids
}

func (c *Cluster) Node(id string) (*Node, bool) {
	n, ok := c.nodesByID[id]
	return n, ok
}

func (c *Cluster) Topology() map[string][]string {
	return c.topology
}

// NewClient returns a client to send requests to the cluster nodes.
func (c *Cluster) NewClient() *Client {
	client := newClient(c)

	c.mu.Lock()
	c.clients[client.ID()] = client
	c.mu.Unlock()

	return client
}

// WaitConverged waits for every node to know exactly the given values.
//
// Returns an error if the context is cancelled first or a node fails.
func (c *Cluster) WaitConverged(ctx context.Context, values []uint64) error {
	expected := slices.Clone(values)
	slices.Sort(expected)
	expected = slices.Compact(expected)

	client := c.NewClient()
	defer client.Close()

	// Poll with backoff up to the gossip interval, since values propagate at
	// most one hop per round.
	b := backoff.New(0, time.Millisecond, c.gossipInterval)
	for {
		converged := true
		for _, n := range c.nodes {
			known, err := client.Read(ctx, n.ID())
			if err != nil {
				return fmt.Errorf("not converged: %w", err)
			}
			if !slices.Equal(known, expected) {
				converged = false
				break
			}
		}
		if converged {
			c.logger.Debug(
				"converged",
				zap.Int("values", len(expected)),
				zap.Int("polls", b.Attempts()+1),
			)
			return nil
		}

		if !b.Wait(ctx) {
			return fmt.Errorf("not converged: %w", ctx.Err())
		}
	}
}

// Close stops all nodes. Returns the errors of any nodes that failed.
func (c *Cluster) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, n := range c.nodes {
		if err := n.stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Cluster) bootstrap(ctx context.Context, nodeIDs []string) error {
	client := c.NewClient()
	defer client.Close()

	for _, id := range nodeIDs {
		if err := client.Init(ctx, id, nodeIDs); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		// Send the topology immediately after init as the node fails if it
		// gossips without a topology.
		if err := client.Topology(ctx, id, c.topology); err != nil {
			return fmt.Errorf("topology: %w", err)
		}
	}
	return nil
}

// route forwards the given frame output by a node to its destination.
func (c *Cluster) route(frame []byte) {
	m, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Warn("invalid frame", zap.Error(err))
		return
	}

	if n, ok := c.nodesByID[m.Dest]; ok {
		if !c.ready.Load() {
			// Gossip is retried each round so is safe to drop.
			return
		}

		// Frames from the reader exclude the newline delimiter.
		if err := n.Deliver(context.Background(), append(frame, '\n')); err != nil {
			c.logger.Debug(
				"failed to deliver",
				zap.String("src", m.Src),
				zap.String("dest", m.Dest),
				zap.Error(err),
			)
		}
		return
	}

	c.mu.Lock()
	client, ok := c.clients[m.Dest]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug(
			"unknown destination",
			zap.String("src", m.Src),
			zap.String("dest", m.Dest),
			zap.String("type", string(m.Body.Type())),
		)
		return
	}
	client.receive(m)
}

func (c *Cluster) removeClient(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.clients, id)
}
