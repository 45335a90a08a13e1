package node

import (
	"context"
	"fmt"
	"io"

	rungroup "github.com/oklog/run"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/pkg/log"
	"github.com/andydunstall/glomers/pkg/protocol"
)

// Node is a single participant in the cluster, which communicates with
// other nodes and clients by reading frames from r and writing frames to w.
type Node struct {
	conf *Config

	state      *State
	reader     *FrameReader
	transport  *StreamTransport
	dispatcher *Dispatcher
	gossiper   *Gossiper

	metrics *Metrics

	logger log.Logger
}

func NewNode(conf *Config, r io.Reader, w io.Writer, logger log.Logger) *Node {
	// All node loggers share an identity, which is set on init.
	logger = logger.WithNodeIdentity()

	metrics := NewMetrics()
	state := NewState(metrics, logger)
	transport := NewStreamTransport(w, metrics)
	return &Node{
		conf:      conf,
		state:     state,
		reader:    NewFrameReader(r, conf.Dispatch.MaxFrameSize, metrics),
		transport: transport,
		dispatcher: NewDispatcher(
			state, transport, conf.Dispatch.MaxConcurrency, metrics, logger,
		),
		gossiper: NewGossiper(
			state, transport, conf.Gossip.Interval, metrics, logger,
		),
		metrics: metrics,
		logger:  logger.WithSubsystem("node"),
	}
}

func (n *Node) State() *State {
	return n.state
}

func (n *Node) Metrics() *Metrics {
	return n.metrics
}

// Run waits for the init handshake, then handles inbound messages and
// gossips until the input is closed, the context is cancelled, or a fatal
// error occurs.
//
// On return all in-flight handlers have completed and gossip has stopped.
// The returned error is prefixed with the stage that failed.
func (n *Node) Run(ctx context.Context) error {
	// The handshake blocks reading the input, so is run in its own goroutine
	// to stop waiting if the context is cancelled.
	handshakeErrCh := make(chan error, 1)
	go func() {
		handshakeErrCh <- n.handshake(ctx)
	}()
	select {
	case err := <-handshakeErrCh:
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	case <-ctx.Done():
		return nil
	}

	n.logger.Info(
		"node started",
		zap.Duration("gossip-interval", n.conf.Gossip.Interval),
	)

	var group rungroup.Group

	// Dispatcher.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	group.Add(func() error {
		return n.dispatcher.Serve(dispatchCtx, n.reader)
	}, func(error) {
		dispatchCancel()
	})

	// Gossip scheduler.
	group.Add(func() error {
		return n.gossiper.Run()
	}, func(error) {
		n.gossiper.Close()
	})

	// Termination handler.
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	group.Add(func() error {
		<-shutdownCtx.Done()
		return nil
	}, func(error) {
		shutdownCancel()
	})

	if err := group.Run(); err != nil {
		return err
	}

	n.logger.Info("node stopped")

	return nil
}

// handshake reads the first frame and applies it as the init message. If the
// context is cancelled while waiting for the frame, the frame is discarded
// without initialising the node or replying.
func (n *Node) handshake(ctx context.Context) error {
	frame, err := n.reader.Next()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := protocol.Decode(frame)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	n.metrics.FramesInbound.WithLabelValues(string(m.Body.Type())).Inc()

	return n.state.Init(m, n.transport)
}
