package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

type scriptedGenerator struct {
	calls atomic.Int32
	errs  []error
}

func (s *scriptedGenerator) EnsureModel(context.Context) (string, error) { return "m", nil }
func (s *scriptedGenerator) Model() string                               { return "m" }

func (s *scriptedGenerator) Generate(context.Context, string) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return "", s.errs[n]
	}
	return "ok", nil
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	g := &scriptedGenerator{errs: []error{apperrors.ErrUpstream}}
	r := NewResilient(g, ResilientConfig{MaxAttempts: 3})
	r.retry.InitialDelay = time.Millisecond
	got, err := r.Generate(context.Background(), "p")
	if err != nil || got != "ok" || g.calls.Load() != 2 {
		t.Errorf("Generate() = %q, %v after %d calls", got, err, g.calls.Load())
	}
}

func TestResilientDoesNotRetryPermanent(t *testing.T) {
	g := &scriptedGenerator{errs: []error{resilience.Permanent(apperrors.ErrUpstream)}}
	r := NewResilient(g, ResilientConfig{MaxAttempts: 3})
	if _, err := r.Generate(context.Background(), "p"); !errors.Is(err, apperrors.ErrUpstream) {
		t.Errorf("Generate() error = %v", err)
	}
	if g.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", g.calls.Load())
	}
}

func TestResilientOpenBreakerFailsFast(t *testing.T) {
	boom := errors.New("down")
	g := &scriptedGenerator{errs: []error{boom, boom, boom, boom}}
	var opened atomic.Bool
	r := NewResilient(g, ResilientConfig{
		MaxAttempts:      1,
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		OnStateChange: func(_ string, s resilience.State) {
			if s == resilience.StateOpen {
				opened.Store(true)
			}
		},
	})
	for i := 0; i < 2; i++ {
		r.Generate(context.Background(), "p")
	}
	if !opened.Load() {
		t.Fatal("breaker did not open")
	}
	_, err := r.Generate(context.Background(), "p")
	if !errors.Is(err, apperrors.ErrUnavailable) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Generate() error = %v", err)
	}
	if g.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", g.calls.Load())
	}
}
