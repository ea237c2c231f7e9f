// Package resilience wraps sony/gobreaker for provider API calls.
//
// Each provider adapter owns one breaker. Client-side errors (bad request,
// expired credentials, invalid cursor) describe the account, not the
// provider's health, so they must not trip the circuit; adapters mark them
// with NonTripping before returning.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"mailsync_server/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// nonTrippingError carries an error through the breaker without counting
// it as a provider failure.
type nonTrippingError struct {
	err error
}

func (e *nonTrippingError) Error() string { return e.err.Error() }
func (e *nonTrippingError) Unwrap() error { return e.err }

// NonTripping marks err so the breaker treats the call as successful.
func NonTripping(err error) error {
	if err == nil {
		return nil
	}
	return &nonTrippingError{err: err}
}

// BreakerConfig holds tuning for a provider breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // half-open probe budget
	Interval         time.Duration // closed-state counter reset
	Timeout          time.Duration // open → half-open
	FailureThreshold uint32        // consecutive failures before opening
}

// DefaultBreakerConfig returns the settings used for all provider adapters.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards calls to one provider's API.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a provider breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[Breaker] %s state change: %s -> %s", name, from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var nt *nonTrippingError
			return errors.As(err, &nt)
		},
	}
	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. NonTripping errors pass through
// without affecting the failure counters.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		var nt *nonTrippingError
		if errors.As(err, &nt) {
			return nt.err
		}
		return err
	}
	return nil
}

// State reports the underlying gobreaker state string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}
