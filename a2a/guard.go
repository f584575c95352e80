package a2a

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// guard applies client-side rate limiting, a circuit breaker and retries to
// calls against one remote agent.
type guard struct {
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
}

func newGuard(name string, opts Options) *guard {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	threshold := opts.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		// Answers from the agent (rpc errors, 4xx) do not count against it.
		IsSuccessful: func(err error) bool { return !retryable(err) },
	})

	attempts := opts.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	return &guard{
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  breaker,
		attempts: attempts,
		delay:    opts.RetryDelay,
	}
}

// once runs fn a single time behind the limiter and the breaker.
func (g *guard) once(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	return err
}

// retry runs fn through once, repeating transport failures.
func (g *guard) retry(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)

	return r.Do(func() error {
		return g.once(ctx, fn)
	})
}
