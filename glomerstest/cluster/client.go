package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/andydunstall/glomers/pkg/protocol"
)

// Client sends requests to nodes in the cluster and waits for the replies.
//
// Client is safe for concurrent use.
type Client struct {
	id string

	cluster *Cluster

	lastMsgID *atomic.Uint64

	// pending contains the requests waiting for a reply, keyed by message
	// ID.
	pending map[uint64]chan protocol.Body

	// mu protects the above fields.
	mu sync.Mutex
}

func newClient(cluster *Cluster) *Client {
	return &Client{
		id:        "c" + uuid.NewString(),
		cluster:   cluster,
		lastMsgID: atomic.NewUint64(0),
		pending:   make(map[uint64]chan protocol.Body),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Init(ctx context.Context, nodeID string, nodeIDs []string) error {
	reply, err := c.rpc(ctx, nodeID, func(msgID uint64) protocol.Body {
		return protocol.Init{
			MsgID:   msgID,
			NodeID:  nodeID,
			NodeIDs: nodeIDs,
		}
	})
	if err != nil {
		return err
	}
	if _, ok := reply.(protocol.InitOk); !ok {
		return unexpectedReply(reply)
	}
	return nil
}

func (c *Client) Echo(ctx context.Context, nodeID string, echo string) (string, error) {
	reply, err := c.rpc(ctx, nodeID, func(msgID uint64) protocol.Body {
		return protocol.Echo{
			MsgID: msgID,
			Echo:  echo,
		}
	})
	if err != nil {
		return "", err
	}
	echoOk, ok := reply.(protocol.EchoOk)
	if !ok {
		return "", unexpectedReply(reply)
	}
	return echoOk.Echo, nil
}

func (c *Client) Broadcast(ctx context.Context, nodeID string, value uint64) error {
	reply, err := c.rpc(ctx, nodeID, func(msgID uint64) protocol.Body {
		return protocol.Broadcast{
			MsgID:   msgID,
			Message: value,
		}
	})
	if err != nil {
		return err
	}
	if _, ok := reply.(protocol.BroadcastOk); !ok {
		return unexpectedReply(reply)
	}
	return nil
}

// Read returns the values known by the node in ascending order.
func (c *Client) Read(ctx context.Context, nodeID string) ([]uint64, error) {
	reply, err := c.rpc(ctx, nodeID, func(msgID uint64) protocol.Body {
		return protocol.Read{
			MsgID: msgID,
		}
	})
	if err != nil {
		return nil, err
	}
	readOk, ok := reply.(protocol.ReadOk)
	if !ok {
		return nil, unexpectedReply(reply)
	}
	return readOk.Messages, nil
}

func (c *Client) Topology(
	ctx context.Context,
	nodeID string,
	topology map[string][]string,
) error {
	reply, err := c.rpc(ctx, nodeID, func(msgID uint64) protocol.Body {
		return protocol.Topology{
			MsgID:    msgID,
			Topology: topology,
		}
	})
	if err != nil {
		return err
	}
	if _, ok := reply.(protocol.TopologyOk); !ok {
		return unexpectedReply(reply)
	}
	return nil
}

// Close removes the client from the cluster. Any replies received after
// closing are discarded.
func (c *Client) Close() {
	c.cluster.removeClient(c.id)
}

func (c *Client) rpc(
	ctx context.Context,
	nodeID string,
	request func(msgID uint64) protocol.Body,
) (protocol.Body, error) {
	n, ok := c.cluster.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("unknown node: %s", nodeID)
	}

	msgID := c.lastMsgID.Inc()
	replyCh := make(chan protocol.Body, 1)

	c.mu.Lock()
	c.pending[msgID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msgID)
		c.mu.Unlock()
	}()

	m := &protocol.Message{
		Src:  c.id,
		Dest: nodeID,
		Body: request(msgID),
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := n.Deliver(ctx, append(b, '\n')); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", m.Body.Type(), nodeID, err)
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-n.Done():
		return nil, fmt.Errorf("%s: %s: %w", m.Body.Type(), nodeID, errNodeStopped)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %s: %w", m.Body.Type(), nodeID, ctx.Err())
	}
}

func (c *Client) receive(m *protocol.Message) {
	inReplyTo, ok := protocol.InReplyTo(m.Body)
	if !ok {
		return
	}

	c.mu.Lock()
	replyCh, ok := c.pending[inReplyTo]
	c.mu.Unlock()

	if !ok {
		return
	}

	select {
	case replyCh <- m.Body:
	default:
		// Duplicate reply.
	}
}

func unexpectedReply(body protocol.Body) error {
	return fmt.Errorf("unexpected reply: %s", body.Type())
}
