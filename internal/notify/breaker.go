package notify

import (
	"context"

	"scenario-trader/internal/resilience"
)

// GuardedChannel stops calling a remote channel after repeated delivery
// failures and tries it again once the breaker timeout has passed.
type GuardedChannel struct {
	Channel
	breaker *resilience.CircuitBreaker
}

// Guard wraps ch in a circuit breaker.
func Guard(ch Channel, cfg resilience.CircuitBreakerConfig) *GuardedChannel {
	return &GuardedChannel{
		Channel: ch,
		breaker: resilience.NewCircuitBreaker(ch.Name(), cfg),
	}
}

// Send delivers n unless the breaker is open.
func (g *GuardedChannel) Send(ctx context.Context, n Notification) error {
	return g.breaker.Execute(func() error {
		return g.Channel.Send(ctx, n)
	})
}

// Breaker exposes the channel's breaker for status reporting.
func (g *GuardedChannel) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
