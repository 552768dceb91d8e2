package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around a TextGenerator.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenMaxCalls    uint32
}

func (c BreakerConfig) normalize() BreakerConfig {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "nlp_model"
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// BreakerGenerator fails fast while the wrapped model keeps failing.
// Calls are never retried; an open circuit surfaces as an NLP stage failure.
type BreakerGenerator struct {
	next    TextGenerator
	breaker *gobreaker.CircuitBreaker[string]
}

func NewBreakerGenerator(next TextGenerator, cfg BreakerConfig) *BreakerGenerator {
	cfg = cfg.normalize()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// A caller giving up says nothing about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerGenerator{next: next, breaker: gobreaker.NewCircuitBreaker[string](settings)}
}

func (g *BreakerGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.breaker.Execute(func() (string, error) {
		return g.next.GenerateText(ctx, systemPrompt, userPrompt)
	})
}

// IsCircuitOpen reports whether err was produced by an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
