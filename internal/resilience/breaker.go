package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes a circuit breaker around one upstream.
type BreakerConfig struct {
	// FailureThreshold trips the breaker after this many consecutive failures. Default: 5.
	FailureThreshold uint32
	// ResetTimeout is how long the breaker stays open before probing. Default: 60s.
	ResetTimeout time.Duration
	// HalfOpenRequests is the number of probe calls allowed half-open. Default: 1.
	HalfOpenRequests uint32
}

// NewBreaker builds a gobreaker.CircuitBreaker that logs state transitions.
func NewBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	threshold := cfg.FailureThreshold

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Execute runs fn through cb. Rejections by an open or saturated breaker are
// reported as ErrCircuitOpen and are not transient.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Join(ErrCircuitOpen, err)
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}
