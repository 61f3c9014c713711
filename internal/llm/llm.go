// Package llm talks to the language model that turns retrieved passages into
// an answer. Two backends exist: a local Ollama server and any
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/joecupano/airgap-lab-ai/pkg/config"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

// AutoModel asks EnsureModel to pick the first installed candidate.
const AutoModel = "auto"

// Generator produces answers from prompts.
type Generator interface {
	// EnsureModel resolves the configured model, downloading it when allowed,
	// and returns the model name that Generate will use.
	EnsureModel(ctx context.Context) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Options holds the generation parameters shared by all backends.
type Options struct {
	Host        string
	Model       string
	Candidates  []string
	AllowPull   bool
	APIKey      string
	Temperature float64
	NumCtx      int
	NumPredict  int
	NumThread   int
}

// OptionsFromConfig maps the llm config section onto Options.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Host:        cfg.Host,
		Model:       cfg.Model,
		Candidates:  cfg.ModelCandidates,
		AllowPull:   cfg.AllowPull(),
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		NumCtx:      cfg.NumCtx,
		NumPredict:  cfg.NumPredict,
		NumThread:   cfg.NumThread,
	}
}

// New builds the configured backend wrapped in a circuit breaker and retry.
// onState, when non-nil, observes breaker transitions.
func New(cfg config.LLMConfig, onState func(name string, to resilience.State)) (Generator, error) {
	opts := OptionsFromConfig(cfg)
	var backend Generator
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		backend = NewOllama(opts, cfg.Timeout)
	case "openai":
		backend = NewOpenAI(opts)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", apperrors.ErrInvalidInput, cfg.Provider)
	}
	return NewResilient(backend, ResilientConfig{
		Name:             strings.ToLower(cfg.Provider),
		MaxAttempts:      cfg.MaxRetries + 1,
		FailureThreshold: cfg.BreakerFailures,
		ResetTimeout:     cfg.BreakerReset,
		OnStateChange:    onState,
	}), nil
}

// StartupError explains why EnsureModel failed at boot, pointing at the
// offline remedy when downloads are disabled.
func StartupError(offlineStrict bool, err error) error {
	if offlineStrict {
		return fmt.Errorf("offline strict mode is enabled and no suitable local model is available. "+
			"Preload the model with 'ollama pull <model>' and retry. Details: %w", err)
	}
	return fmt.Errorf("unable to prepare model: %w", err)
}

// pickModel resolves want against the installed names. It returns the model
// to use and whether it is already installed.
func pickModel(want string, candidates []string, installed map[string]bool) (string, bool, error) {
	if want != AutoModel && want != "" {
		return want, installed[want], nil
	}
	for _, c := range candidates {
		if installed[c] {
			return c, true, nil
		}
	}
	if len(candidates) == 0 {
		return "", false, fmt.Errorf("%w: model is auto but no candidates are configured", apperrors.ErrInvalidInput)
	}
	return candidates[0], false, nil
}
