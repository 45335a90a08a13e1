package cluster

import (
	"context"
	"errors"
	"io"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/node"
	"github.com/andydunstall/glomers/pkg/log"
)

var (
	errNodeStopped = errors.New("node stopped")
)

// Node runs a node.Node in-process, connected to the cluster over a pair of
// pipes in place of stdin and stdout.
type Node struct {
	id string

	node *node.Node

	// inbox queues frames to write to the nodes input.
	inbox chan []byte

	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	// route is called with each frame the node outputs.
	route func(frame []byte)

	cancel func()

	// err is the error returned by the node. Only valid once doneCh is
	// closed.
	err    error
	doneCh chan struct{}

	closed     *atomic.Bool
	shutdownCh chan struct{}

	logger log.Logger
}

func newNode(
	id string,
	conf *node.Config,
	route func(frame []byte),
	logger log.Logger,
) *Node {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	logger = logger.With(zap.String("node", id))
	return &Node{
		id:         id,
		node:       node.NewNode(conf, inR, outW, logger),
		inbox:      make(chan []byte, 1024),
		inR:        inR,
		inW:        inW,
		outR:       outR,
		outW:       outW,
		route:      route,
		doneCh:     make(chan struct{}),
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		logger:     logger.WithSubsystem("cluster.node"),
	}
}

func (n *Node) ID() string {
	return n.id
}

// State returns the underlying node state.
func (n *Node) State() *node.State {
	return n.node.State()
}

func (n *Node) Metrics() *node.Metrics {
	return n.node.Metrics()
}

// Done returns a channel that's closed when the node stops.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

// Err returns the error the node stopped with, or nil if the node is running
// or stopped cleanly.
func (n *Node) Err() error {
	select {
	case <-n.doneCh:
		return n.err
	default:
		return nil
	}
}

// Deliver queues the given frame to write to the nodes input.
func (n *Node) Deliver(ctx context.Context, frame []byte) error {
	select {
	case n.inbox <- frame:
		return nil
	case <-n.shutdownCh:
		return errNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) start() {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	go n.run(ctx)
	go n.writeInput()
	go n.readOutput()
}

// stop stops the node and waits for it to exit. Returns the error the node
// exited with.
func (n *Node) stop() error {
	n.close()
	n.cancel()
	// Closing the input unblocks any pending read.
	n.inW.Close()

	<-n.doneCh
	return n.err
}

func (n *Node) run(ctx context.Context) {
	err := n.node.Run(ctx)
	if err != nil {
		n.logger.Warn("node failed", zap.Error(err))
	}

	n.err = err
	n.close()
	n.outW.Close()
	n.inR.CloseWithError(errNodeStopped)
	close(n.doneCh)
}

func (n *Node) writeInput() {
	for {
		select {
		case frame := <-n.inbox:
			if _, err := n.inW.Write(frame); err != nil {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) readOutput() {
	reader := node.NewFrameReader(n.outR, 4*1024*1024, node.NewMetrics())
	for {
		frame, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				n.logger.Warn("read output", zap.Error(err))
			}
			return
		}
		n.route(frame)
	}
}

func (n *Node) close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}
	close(n.shutdownCh)
}
