package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// BreakerConfig holds configuration for the provider circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	MaxRequests uint32        `json:"max_requests" yaml:"max_requests"` // probes allowed while half-open
	Interval    time.Duration `json:"interval" yaml:"interval"`         // closed-state count reset
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`           // open-state duration
	// Trip once MinRequests have been seen and the failure ratio reaches
	// FailureThreshold.
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`
	MinRequests      uint32  `json:"min_requests" yaml:"min_requests"`
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p so that a run of infrastructure failures fails fast
// with ErrCircuitOpen instead of waiting out retries on every call. Client
// errors and cancellations do not count as failures.
func WithBreaker(name string, p Provider, cfg BreakerConfig) Provider {
	if !cfg.Enabled {
		return p
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				IsClientError(err) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Chat(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*ChatResponse), nil
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Embed(ctx, texts)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.([][]float32), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}
