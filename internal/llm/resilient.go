package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

// ResilientConfig tunes the breaker and retry around a backend.
type ResilientConfig struct {
	Name             string
	MaxAttempts      int
	FailureThreshold int
	ResetTimeout     time.Duration
	OnStateChange    func(name string, to resilience.State)
}

// Resilient retries transient backend failures and stops calling a backend
// that keeps failing. Model resolution is not retried.
type Resilient struct {
	next    Generator
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	name    string
}

// NewResilient wraps next.
func NewResilient(next Generator, cfg ResilientConfig) *Resilient {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &Resilient{
		next: next,
		breaker: resilience.NewCircuitBreaker(cfg.Name, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			OnStateChange:    cfg.OnStateChange,
		}),
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		name: cfg.Name,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (r *Resilient) Breaker() *resilience.CircuitBreaker { return r.breaker }

func (r *Resilient) Model() string { return r.next.Model() }

func (r *Resilient) EnsureModel(ctx context.Context) (string, error) {
	return r.next.EnsureModel(ctx)
}

// Generate calls the backend through the breaker, retrying transient errors.
func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := resilience.Retry(ctx, r.name+".generate", r.retry, func() error {
		err := r.breaker.Execute(func() error {
			out, err := r.next.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			answer = out
			return nil
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err))
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}
