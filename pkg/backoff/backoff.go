package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with jitter, capped at a maximum
// wait.
type Backoff struct {
	// retries is the maximum number of attempts, or zero to retry forever.
	retries    int
	minBackoff time.Duration
	maxBackoff time.Duration

	// attempts is the number of attempts so far.
	attempts    int
	lastBackoff time.Duration
}

// New creates a new backoff.
//
// Set 'retries' to zero to retry forever.
func New(retries int, minBackoff time.Duration, maxBackoff time.Duration) *Backoff {
	return &Backoff{
		retries:    retries,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Wait blocks until the next retry. Returns false if the number of retries
// has been reached or the context is cancelled, so the caller should stop.
func (b *Backoff) Wait(ctx context.Context) bool {
	if b.retries != 0 && b.attempts >= b.retries {
		return false
	}
	b.attempts++

	b.lastBackoff = b.nextWait()

	timer := time.NewTimer(b.lastBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Attempts returns the number of retries so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) nextWait() time.Duration {
	backoff := b.minBackoff
	if b.lastBackoff != 0 {
		backoff = b.lastBackoff * 2
	}
	if backoff > b.maxBackoff {
		backoff = b.maxBackoff
	}

	jitterMultipler := 1.0 + (rand.Float64() * 0.1)
	return time.Duration(float64(backoff) * jitterMultipler)
}
