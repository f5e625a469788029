package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the delivery circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns conservative defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         5,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker wraps a Deliverer in a circuit breaker. When the transport keeps
// failing wholesale, the breaker opens and attempts fail fast as transient
// per-recipient failures, which the outgoing runner converts into retry
// passes rather than hammering a dead relay.
type Breaker struct {
	inner Deliverer
	cb    *gobreaker.CircuitBreaker
	log   *slog.Logger
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Deliverer, cfg BreakerConfig) *Breaker {
	log := slog.Default().With("component", "delivery-breaker")
	settings := gobreaker.Settings{
		Name:        "delivery",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("delivery breaker state change", "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

func (b *Breaker) Deliver(ctx context.Context, msg []byte, envelopeSender string, recipients []string) ([]RecipientResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Deliver(ctx, msg, envelopeSender, recipients)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			results := make([]RecipientResult, len(recipients))
			for i, rcpt := range recipients {
				results[i] = RecipientResult{Recipient: rcpt, Outcome: TempFail, Message: "delivery breaker open"}
			}
			return results, nil
		}
		return nil, err
	}
	return out.([]RecipientResult), nil
}
