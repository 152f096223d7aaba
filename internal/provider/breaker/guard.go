// Package breaker trips outbound provider calls open after sustained
// failure, so a misbehaving upstream does not hold every worker slot
// waiting on timeouts (spec §5 suspension point (a)).
package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Guard wraps one provider client's outbound calls in a circuit
// breaker named after the client.
type Guard struct {
	cb *gobreaker.CircuitBreaker
}

// NewGuard builds a Guard named name. The circuit trips after more than
// 5 consecutive failures or a 60% failure ratio over at least 10
// requests within the rolling interval, and stays open for timeout
// before allowing a half-open probe.
func NewGuard(name string, timeout time.Duration) *Guard {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Guard{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. When the breaker is open, fn is not
// called and gobreaker.ErrOpenState is returned.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the breaker's current state for health reporting.
func (g *Guard) State() string {
	return g.cb.State().String()
}
