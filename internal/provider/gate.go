package provider

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrQueueTimeout is returned when a request waited longer than the
// configured queue timeout for provider capacity. It is a transient
// condition; callers convert it to their retryable error.
var ErrQueueTimeout = errors.New("timed out waiting for provider capacity")

// Gate bounds the rate of outbound provider calls. Excess requests queue on
// the limiter rather than failing immediately; waits longer than the queue
// timeout convert to ErrQueueTimeout.
type Gate struct {
	limiter      *rate.Limiter
	queueTimeout time.Duration
}

// NewGate creates a Gate allowing rps requests per second with the given
// burst. A non-positive rps disables limiting.
func NewGate(rps float64, burst int, queueTimeout time.Duration) *Gate {
	if rps <= 0 {
		return &Gate{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		queueTimeout: queueTimeout,
	}
}

// Acquire blocks until the limiter admits the call, the queue timeout
// elapses, or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil || g.limiter == nil {
		return nil
	}

	waitCtx := ctx
	if g.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.queueTimeout)
		defer cancel()
	}

	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrQueueTimeout
	}
	return nil
}
