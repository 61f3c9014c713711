package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

// OpenAI implements Generator against an OpenAI-compatible chat completions
// API. Pointing Host at a local server keeps traffic inside the air gap.
type OpenAI struct {
	opts   Options
	client *openai.Client

	mu    sync.RWMutex
	model string
}

// NewOpenAI creates a client. A Host without a /v1 suffix gets one.
func NewOpenAI(opts Options) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.Host != "" {
		base := strings.TrimRight(opts.Host, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
	}
	return &OpenAI{
		opts:   opts,
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (o *OpenAI) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

// EnsureModel checks the model list. Remote endpoints cannot pull, so a
// missing model is always an error.
func (o *OpenAI) EnsureModel(ctx context.Context) (string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("listing models: %w", classify(err))
	}
	installed := make(map[string]bool, len(list.Models))
	for _, m := range list.Models {
		installed[m.ID] = true
	}
	o.mu.RLock()
	want := o.model
	o.mu.RUnlock()
	chosen, ok, err := pickModel(want, o.opts.Candidates, installed)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: model %q is not served by %s", apperrors.ErrUnavailable, chosen, o.opts.Host)
	}
	o.mu.Lock()
	o.model = chosen
	o.mu.Unlock()
	return chosen, nil
}

// Generate sends prompt as a single user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.Model(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(o.opts.Temperature),
		MaxTokens:   o.opts.NumPredict,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: %w: no choices returned", apperrors.ErrUpstream)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify tags API errors with ErrUpstream and marks client errors
// permanent.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	wrapped := fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		return resilience.Permanent(wrapped)
	}
	return wrapped
}
