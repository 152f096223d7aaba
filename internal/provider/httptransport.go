package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/knowledge-sync/sync-core/internal/provider/breaker"
	"github.com/knowledge-sync/sync-core/internal/provider/ratelimit"
)

// GuardedTransport is an http.RoundTripper that sits in front of a
// concrete provider client: it acquires a rate-limit token, then runs
// the request through a named circuit breaker, and traces the call via
// otelhttp (spec §5 suspension points (a) and (b)).
type GuardedTransport struct {
	wrapped http.RoundTripper
	budget  *ratelimit.Budget
	guard   *breaker.Guard
}

// NewGuardedTransport wraps base (or http.DefaultTransport if nil) with
// otelhttp tracing, a token bucket sized ratePerSecond/burst, and a
// circuit breaker named name that opens for breakerTimeout after
// sustained failure.
func NewGuardedTransport(name string, base http.RoundTripper, ratePerSecond float64, burst int, breakerTimeout time.Duration) *GuardedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &GuardedTransport{
		wrapped: otelhttp.NewTransport(base),
		budget:  ratelimit.NewBudget(ratePerSecond, burst),
		guard:   breaker.NewGuard(name, breakerTimeout),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *GuardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.budget.Acquire(req.Context()); err != nil {
		return nil, fmt.Errorf("guarded transport: %w", err)
	}

	var resp *http.Response
	err := t.guard.Do(req.Context(), func(ctx context.Context) error {
		var roundTripErr error
		resp, roundTripErr = t.wrapped.RoundTrip(req)
		if roundTripErr != nil {
			return roundTripErr
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("guarded transport: upstream status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return resp, err
	}
	return resp, nil
}
