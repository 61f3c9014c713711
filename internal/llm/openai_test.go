package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

func newOpenAIServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]string{{"id": "qwen2.5:3b", "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "nope", "type": "invalid_request_error"}})
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "qwen2.5:3b" {
			t.Errorf("model = %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "c1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": " use the fox \n"},
				"finish_reason": "stop",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEnsureAndGenerate(t *testing.T) {
	srv := newOpenAIServer(t, 0)
	o := NewOpenAI(Options{Host: srv.URL, Model: AutoModel, Candidates: []string{"llama3.1:8b", "qwen2.5:3b"}})
	got, err := o.EnsureModel(context.Background())
	if err != nil || got != "qwen2.5:3b" {
		t.Fatalf("EnsureModel() = %q, %v", got, err)
	}
	answer, err := o.Generate(context.Background(), "which animal?")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "use the fox" {
		t.Errorf("Generate() = %q", answer)
	}
}

func TestOpenAIMissingModel(t *testing.T) {
	srv := newOpenAIServer(t, 0)
	o := NewOpenAI(Options{Host: srv.URL + "/v1", Model: "gpt-4o"})
	if _, err := o.EnsureModel(context.Background()); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("EnsureModel() error = %v", err)
	}
}

func TestOpenAIBadRequestIsPermanent(t *testing.T) {
	srv := newOpenAIServer(t, http.StatusBadRequest)
	o := NewOpenAI(Options{Host: srv.URL, Model: "qwen2.5:3b"})
	_, err := o.Generate(context.Background(), "q")
	if !errors.Is(err, apperrors.ErrUpstream) || !resilience.IsPermanent(err) {
		t.Errorf("Generate() error = %v", err)
	}
}
