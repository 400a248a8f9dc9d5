package delivery

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited spaces out sends to a provider. Waiting honors ctx, so a send
// timeout also bounds time spent queued here.
type RateLimited struct {
	next    Channel
	limiter *rate.Limiter
}

// NewRateLimited allows perSec sends per second with a burst of the same
// size. perSec <= 0 returns next unchanged.
func NewRateLimited(next Channel, perSec int) Channel {
	if perSec <= 0 {
		return next
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &ProviderError{Provider: r.next.Name(), Code: CodeRateLimited, Err: err}
	}
	return r.next.Send(ctx, msg)
}
