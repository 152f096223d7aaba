// Package ratelimit bounds outbound calls to a provider API so a tenant
// hydration or sync run does not trip the upstream's own rate limits
// (spec §5 suspension point (b)).
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Budget wraps a token bucket scoped to one provider client. Callers
// acquire a token before every outbound call; Acquire blocks until one
// is available or ctx is cancelled.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget builds a Budget allowing ratePerSecond sustained requests
// per second with room for a burst of burst requests.
func NewBudget(ratePerSecond float64, burst int) *Budget {
	return &Budget{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Acquire blocks until a token is available or ctx is done.
func (b *Budget) Acquire(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire: %w", err)
	}
	return nil
}

// Tokens reports the number of tokens currently available, for callers
// that want to log bucket exhaustion before blocking.
func (b *Budget) Tokens() float64 {
	return b.limiter.Tokens()
}
