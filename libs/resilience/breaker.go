package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/libs/config"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the dependency while the
// breaker is open or probing.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerConfig struct {
	Name                  string
	MaxRequests           uint32        // probes allowed while half-open
	Interval              time.Duration // closed-state count reset period (0 = never)
	Timeout               time.Duration // open -> half-open delay
	FailureThreshold      uint32        // consecutive failures that trip
	FailureRatioThreshold float64
	MinRequestsToTrip     uint32
	// Benign reports errors that are answers, not faults (row not found,
	// caller cancelled). They never count toward tripping.
	Benign func(error) bool
	// OnStateChange is called after the breaker logs a transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                  name,
		MaxRequests:           3,
		Interval:              60 * time.Second,
		Timeout:               15 * time.Second,
		FailureThreshold:      5,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     20,
	}
}

// BreakerConfigFromEnv overlays STORE_BREAKER_* variables on the defaults.
func BreakerConfigFromEnv(name string) (BreakerConfig, error) {
	cfg := DefaultBreakerConfig(name)
	failures, err := config.Int("STORE_BREAKER_FAILURES", int(cfg.FailureThreshold))
	if err != nil {
		return cfg, err
	}
	timeout, err := config.Duration("STORE_BREAKER_TIMEOUT", cfg.Timeout)
	if err != nil {
		return cfg, err
	}
	cfg.FailureThreshold = uint32(failures)
	cfg.Timeout = timeout
	return cfg, nil
}

type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *slog.Logger
}

func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	benign := cfg.Benign
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if cfg.MinRequestsToTrip > 0 && counts.Requests >= cfg.MinRequestsToTrip {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatioThreshold
			}
			return false
		},
		// Cancellation and caller deadlines are not dependency faults.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return benign != nil && benign(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}
	return &Breaker{
		cb:     gobreaker.NewCircuitBreaker(settings),
		name:   cfg.Name,
		logger: logger,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Execute runs fn through the breaker. A rejected call wraps ErrCircuitOpen.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug("circuit breaker rejected call", "name", b.name, "reason", err.Error())
		return zero, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
