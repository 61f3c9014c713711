package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

type fakeOllama struct {
	installed []string
	pulled    atomic.Value
	lastGen   atomic.Value
	status    int
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, 0, len(f.installed))
		for _, name := range f.installed {
			models = append(models, map[string]string{"name": name})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaPullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding pull: %v", err)
		}
		if req.Stream {
			t.Error("pull should not stream")
		}
		f.pulled.Store(req.Name)
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding generate: %v", err)
		}
		f.lastGen.Store(req)
		json.NewEncoder(w).Encode(map[string]any{"response": "  grounded answer \n", "done": true})
	})
	return mux
}

func newOllama(t *testing.T, f *fakeOllama, opts Options) *Ollama {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	opts.Host = srv.URL + "/"
	return NewOllama(opts, 5*time.Second)
}

func TestEnsureModelAutoPicksInstalledCandidate(t *testing.T) {
	f := &fakeOllama{installed: []string{"phi3:mini", "qwen2.5:3b"}}
	o := newOllama(t, f, Options{Model: AutoModel, Candidates: []string{"llama3.1:8b", "qwen2.5:3b", "phi3:mini"}})
	got, err := o.EnsureModel(context.Background())
	if err != nil {
		t.Fatalf("EnsureModel() error = %v", err)
	}
	if got != "qwen2.5:3b" || o.Model() != "qwen2.5:3b" {
		t.Errorf("model = %q, Model() = %q", got, o.Model())
	}
	if f.pulled.Load() != nil {
		t.Error("installed candidate should not be pulled")
	}
}

func TestEnsureModelAutoPullsFirstCandidate(t *testing.T) {
	f := &fakeOllama{}
	o := newOllama(t, f, Options{Model: AutoModel, Candidates: []string{"llama3.1:8b", "phi3:mini"}, AllowPull: true})
	got, err := o.EnsureModel(context.Background())
	if err != nil {
		t.Fatalf("EnsureModel() error = %v", err)
	}
	if got != "llama3.1:8b" || f.pulled.Load() != "llama3.1:8b" {
		t.Errorf("model = %q, pulled = %v", got, f.pulled.Load())
	}
}

func TestEnsureModelWithoutPull(t *testing.T) {
	f := &fakeOllama{installed: []string{"other"}}
	for _, model := range []string{AutoModel, "mistral:7b"} {
		o := newOllama(t, f, Options{Model: model, Candidates: []string{"phi3:mini"}})
		_, err := o.EnsureModel(context.Background())
		if !errors.Is(err, apperrors.ErrUnavailable) {
			t.Errorf("EnsureModel(%q) error = %v, want ErrUnavailable", model, err)
		}
	}
	if f.pulled.Load() != nil {
		t.Error("nothing should be pulled when pulls are disabled")
	}
}

func TestEnsureModelExplicitInstalled(t *testing.T) {
	f := &fakeOllama{installed: []string{"mistral:7b"}}
	o := newOllama(t, f, Options{Model: "mistral:7b"})
	if got, err := o.EnsureModel(context.Background()); err != nil || got != "mistral:7b" {
		t.Errorf("EnsureModel() = %q, %v", got, err)
	}
}

func TestGenerateSendsOptions(t *testing.T) {
	f := &fakeOllama{}
	o := newOllama(t, f, Options{Model: "phi3:mini", Temperature: 0.2, NumCtx: 4096, NumPredict: 256, NumThread: 6})
	got, err := o.Generate(context.Background(), "why?")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "grounded answer" {
		t.Errorf("Generate() = %q", got)
	}
	req := f.lastGen.Load().(ollamaGenerateRequest)
	want := ollamaOptions{Temperature: 0.2, NumCtx: 4096, NumPredict: 256, NumThread: 6}
	if req.Model != "phi3:mini" || req.Prompt != "why?" || req.Stream || req.Options != want {
		t.Errorf("request = %+v", req)
	}
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	o := newOllama(t, &fakeOllama{status: http.StatusNotFound}, Options{Model: "x"})
	_, err := o.Generate(context.Background(), "q")
	if !errors.Is(err, apperrors.ErrUpstream) || !resilience.IsPermanent(err) {
		t.Errorf("404 error = %v", err)
	}

	o = newOllama(t, &fakeOllama{status: http.StatusInternalServerError}, Options{Model: "x"})
	_, err = o.Generate(context.Background(), "q")
	if !errors.Is(err, apperrors.ErrUpstream) || resilience.IsPermanent(err) {
		t.Errorf("500 error = %v", err)
	}
}

func TestUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	o := NewOllama(Options{Host: url, Model: "x"}, time.Second)
	if _, err := o.EnsureModel(context.Background()); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("EnsureModel() error = %v", err)
	}
}
