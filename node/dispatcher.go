package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/glomers/pkg/log"
	"github.com/andydunstall/glomers/pkg/protocol"
)

// Dispatcher reads inbound frames and applies each to the node state.
//
// Each frame is handled in its own goroutine, so a handler waiting on the
// state lock doesn't block reading the next frame. The state lock serialises
// the handlers themselves.
type Dispatcher struct {
	state     *State
	transport Transport

	// maxConcurrency limits the number of in-flight handlers, or zero if
	// unbounded.
	maxConcurrency int

	metrics *Metrics

	logger log.Logger
}

func NewDispatcher(
	state *State,
	transport Transport,
	maxConcurrency int,
	metrics *Metrics,
	logger log.Logger,
) *Dispatcher {
	return &Dispatcher{
		state:          state,
		transport:      transport,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		logger:         logger.WithSubsystem("dispatcher"),
	}
}

// Serve reads and dispatches frames until the reader is exhausted, the
// context is cancelled or a frame fails.
//
// Any decode or handler error is fatal and returned. Serve always waits for
// in-flight handlers to complete before returning. Returns nil when the
// reader is exhausted or the context is cancelled.
func (d *Dispatcher) Serve(ctx context.Context, r *FrameReader) error {
	g, gctx := errgroup.WithContext(ctx)
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}

	done := make(chan struct{})
	defer close(done)

	frames := make(chan []byte)
	readErrCh := make(chan error, 1)
	go d.read(r, frames, readErrCh, done)

	var serveErr error
	for serveErr == nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				if err := <-readErrCh; err != nil {
					serveErr = fmt.Errorf("read: %w", err)
				} else {
					d.logger.Info("input closed; waiting for in-flight handlers")
				}
				return errors.Join(g.Wait(), serveErr)
			}

			m, err := protocol.Decode(frame)
			if err != nil {
				d.logger.Error("failed to decode frame", zap.Error(err))
				serveErr = fmt.Errorf("decode: %w", err)
				break
			}

			d.metrics.FramesInbound.WithLabelValues(string(m.Body.Type())).Inc()

			g.Go(func() error {
				return d.dispatch(m)
			})
		case <-gctx.Done():
			// Either a handler failed, in which case Wait returns its error,
			// or the parent context was cancelled.
			return g.Wait()
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return serveErr
}

func (d *Dispatcher) dispatch(m *protocol.Message) error {
	d.metrics.HandlersInFlight.Inc()
	defer d.metrics.HandlersInFlight.Dec()

	start := time.Now()
	if err := d.state.Handle(m, d.transport); err != nil {
		return fmt.Errorf("dispatch: %s: %w", m.Body.Type(), err)
	}
	d.metrics.HandleLatency.WithLabelValues(
		string(m.Body.Type()),
	).Observe(time.Since(start).Seconds())

	return nil
}

// read reads frames from r until it's exhausted or done is closed. When r
// is exhausted frames is closed, after sending the read error (or nil) to
// errCh.
func (d *Dispatcher) read(
	r *FrameReader,
	frames chan<- []byte,
	errCh chan<- error,
	done <-chan struct{},
) {
	for {
		frame, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			errCh <- err
			close(frames)
			return
		}

		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}
