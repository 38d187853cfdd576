package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Guard throttles and circuit-breaks calls to one provider.
type Guard struct {
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewGuard builds a guard allowing rps calls per second with the given
// burst. A non-positive rps disables throttling; burst below 1 becomes 1.
func NewGuard(rps float64, burst int, breaker *CircuitBreaker) *Guard {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Guard{limiter: rate.NewLimiter(limit, burst), breaker: breaker}
}

// Call waits for a rate token, then runs fn through the breaker.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, eris.Wrap(err, "rate limit wait")
	}
	if g.breaker == nil {
		return fn(ctx)
	}
	return ExecuteVal(ctx, g.breaker, fn)
}
