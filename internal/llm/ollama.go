package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	pullTimeout       = 30 * time.Minute
	tagsTimeout       = 30 * time.Second
)

// Ollama implements Generator against the Ollama HTTP API.
type Ollama struct {
	opts   Options
	client *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	model string
}

// NewOllama creates an Ollama client. timeout bounds each generate call;
// model pulls use their own longer limit.
func NewOllama(opts Options, timeout time.Duration) *Ollama {
	if opts.Host == "" {
		opts.Host = defaultOllamaHost
	}
	opts.Host = strings.TrimRight(opts.Host, "/")
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &Ollama{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "ollama"),
		model:  opts.Model,
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumThread   int     `json:"num_thread,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Model returns the resolved model name, or the configured one before
// EnsureModel succeeds.
func (o *Ollama) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

// EnsureModel lists installed models and pulls the chosen one if it is
// missing and pulls are allowed.
func (o *Ollama) EnsureModel(ctx context.Context) (string, error) {
	var tags ollamaTagsResponse
	tctx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()
	if err := o.do(tctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return "", fmt.Errorf("listing models: %w", err)
	}
	installed := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		installed[m.Name] = true
	}

	o.mu.RLock()
	want := o.model
	o.mu.RUnlock()
	chosen, ok, err := pickModel(want, o.opts.Candidates, installed)
	if err != nil {
		return "", err
	}
	if !ok {
		if !o.opts.AllowPull {
			if want == AutoModel || want == "" {
				return "", fmt.Errorf("%w: no auto model candidate found in Ollama and auto-pull is disabled; candidates: %v",
					apperrors.ErrUnavailable, o.opts.Candidates)
			}
			return "", fmt.Errorf("%w: model %q not found in Ollama and auto-pull is disabled",
				apperrors.ErrUnavailable, chosen)
		}
		o.logger.Info("pulling model", "model", chosen)
		pctx, cancel := context.WithTimeout(ctx, pullTimeout)
		defer cancel()
		start := time.Now()
		if err := o.do(pctx, http.MethodPost, "/api/pull", ollamaPullRequest{Name: chosen}, nil); err != nil {
			return "", fmt.Errorf("pulling %s: %w", chosen, err)
		}
		o.logger.Info("model pulled", "model", chosen, "duration", time.Since(start))
	}

	o.mu.Lock()
	o.model = chosen
	o.mu.Unlock()
	return chosen, nil
}

// Generate sends prompt to /api/generate and returns the trimmed answer.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	req := ollamaGenerateRequest{
		Model:  o.Model(),
		Prompt: prompt,
		Options: ollamaOptions{
			Temperature: o.opts.Temperature,
			NumCtx:      o.opts.NumCtx,
			NumPredict:  o.opts.NumPredict,
			NumThread:   o.opts.NumThread,
		},
	}
	var resp ollamaGenerateResponse
	if err := o.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return strings.TrimSpace(resp.Response), nil
}

// do performs one JSON request. Client errors (4xx) are marked permanent so
// they are neither retried nor counted against the breaker.
func (o *Ollama) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.opts.Host+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := o.client
	if path == "/api/pull" {
		client = &http.Client{Timeout: pullTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama: %w: %w", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("ollama returned status %d: %w: %s", resp.StatusCode, apperrors.ErrUpstream, strings.TrimSpace(string(msg)))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w: %w", apperrors.ErrUpstream, err)
	}
	return nil
}
