package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/analytics"
	"github.com/joecupano/airgap-lab-ai/internal/corpus"
	"github.com/joecupano/airgap-lab-ai/internal/llm"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/middleware"
)

const (
	maxQueryBodyBytes = 1 << 20
	defaultListLimit  = 20
	maxListLimit      = 500
)

var errNoIndex = apperrors.New(apperrors.ErrIndexAbsent, http.StatusBadRequest, "No index found. Call POST /ingest first.")

type generationInfo struct {
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
	NumThread   int     `json:"num_thread"`
	Temperature float64 `json:"temperature"`
}

type healthResponse struct {
	Status           string         `json:"status"`
	Model            string         `json:"model"`
	IndexReady       bool           `json:"index_ready"`
	CorpusPath       string         `json:"corpus_path"`
	UseCaseName      string         `json:"use_case_name"`
	TuningProfile    string         `json:"tuning_profile"`
	SystemRAMGB      int            `json:"system_ram_gb"`
	SystemCPUThreads int            `json:"system_cpu_threads"`
	Generation       generationInfo `json:"generation"`
	OfflineStrict    bool           `json:"offline_strict"`
}

type ingestResponse struct {
	IndexedChunks int    `json:"indexed_chunks"`
	IndexedFiles  int    `json:"indexed_files"`
	CorpusPath    string `json:"corpus_path"`
	BuildID       string `json:"build_id,omitempty"`
}

type askResponse struct {
	Answer  string             `json:"answer"`
	Model   string             `json:"model"`
	Sources []retrieval.Result `json:"sources"`
}

type searchResponse struct {
	Query   string             `json:"query"`
	Sources []retrieval.Result `json:"sources"`
}

type uploadResponse struct {
	Uploaded   []corpus.StoredFile `json:"uploaded"`
	Rejected   []string            `json:"rejected"`
	CorpusPath string              `json:"corpus_path"`
}

type listDocumentsResponse struct {
	Documents  []corpus.StoredFile `json:"documents"`
	CorpusPath string              `json:"corpus_path"`
}

type deleteDocumentResponse struct {
	Deleted    string `json:"deleted"`
	CorpusPath string `json:"corpus_path"`
}

type deleteAllResponse struct {
	DeletedCount int    `json:"deleted_count"`
	CorpusPath   string `json:"corpus_path"`
}

// Health reports the service settings in the shape existing clients expect.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		Model:            s.deps.Generator.Model(),
		IndexReady:       s.deps.Engine.IndexExists(),
		CorpusPath:       cfg.Corpus.Path,
		UseCaseName:      cfg.Assistant.UseCaseName,
		TuningProfile:    cfg.Profile.Name,
		SystemRAMGB:      cfg.Profile.RAMGB,
		SystemCPUThreads: cfg.Profile.CPUThreads,
		Generation: generationInfo{
			NumCtx:      cfg.LLM.NumCtx,
			NumPredict:  cfg.LLM.NumPredict,
			NumThread:   cfg.LLM.NumThread,
			Temperature: cfg.LLM.Temperature,
		},
		OfflineStrict: cfg.LLM.OfflineStrict,
	})
}

func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reindex(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("ingest failed", "corpus_path", res.Root, "error", err)
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{
		IndexedChunks: res.Chunks,
		IndexedFiles:  res.Files,
		CorpusPath:    s.deps.Config.Corpus.Path,
		BuildID:       res.BuildID,
	})
}

// Search answers with the retrieved passages only.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := s.decodeQuery(w, r, "search")
	if !ok {
		return
	}
	k := s.deps.Engine.ClampK(req.topK())
	results, cacheHit, buildID, err := s.retrieve(ctx, req.Question, k)
	if err != nil {
		s.deps.Metrics.QueriesTotal.WithLabelValues("search", "error").Inc()
		s.writeAppError(w, err)
		return
	}
	s.deps.Metrics.QueriesTotal.WithLabelValues("search", "ok").Inc()

	latencyMs := time.Since(start).Milliseconds()
	logger.FromContext(ctx).Info("search completed",
		"returned", len(results),
		"top_k", k,
		"cache_hit", cacheHit,
		"latency_ms", latencyMs,
	)
	s.deps.Collector.Track(analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     req.Question,
		TopK:      k,
		Returned:  len(results),
		TopScore:  topScore(results),
		LatencyMs: latencyMs,
		CacheHit:  cacheHit,
		BuildID:   buildID,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	})
	setCacheHeader(w, s.deps.Cache != nil, cacheHit)
	s.writeJSON(w, http.StatusOK, searchResponse{Query: req.Question, Sources: results})
}

// Ask retrieves context for the question and has the model answer it.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	req, ok := s.decodeQuery(w, r, "ask")
	if !ok {
		return
	}
	k := s.deps.Engine.ClampK(req.topK())

	retrievalStart := time.Now()
	results, cacheHit, buildID, err := s.retrieve(ctx, req.Question, k)
	if err != nil {
		s.deps.Metrics.QueriesTotal.WithLabelValues("ask", "error").Inc()
		s.writeAppError(w, err)
		return
	}
	retrievalMs := time.Since(retrievalStart).Milliseconds()

	prompt := llm.BuildPrompt(s.deps.Config.Assistant, req.Question, results)
	genStart := time.Now()
	answer, err := s.deps.Generator.Generate(ctx, prompt)
	genElapsed := time.Since(genStart)
	s.deps.Metrics.LLMLatency.Observe(genElapsed.Seconds())

	event := analytics.AskEvent{
		Type:        analytics.EventAsk,
		Query:       req.Question,
		TopK:        k,
		Returned:    len(results),
		RetrievalMs: retrievalMs,
		GenerateMs:  genElapsed.Milliseconds(),
		Model:       s.deps.Generator.Model(),
		Failed:      err != nil,
		BuildID:     buildID,
		Timestamp:   time.Now().UTC(),
		RequestID:   middleware.GetRequestID(ctx),
	}
	s.deps.Collector.Track(event)

	if err != nil {
		s.deps.Metrics.LLMErrors.Inc()
		s.deps.Metrics.QueriesTotal.WithLabelValues("ask", "error").Inc()
		log.Error("generation failed", "model", event.Model, "error", err)
		s.writeAppError(w, err)
		return
	}
	s.deps.Metrics.QueriesTotal.WithLabelValues("ask", "ok").Inc()
	log.Info("ask completed",
		"returned", len(results),
		"retrieval_ms", retrievalMs,
		"generate_ms", event.GenerateMs,
		"model", event.Model,
	)
	setCacheHeader(w, s.deps.Cache != nil, cacheHit)
	s.writeJSON(w, http.StatusOK, askResponse{
		Answer:  answer,
		Model:   event.Model,
		Sources: results,
	})
}

// UploadDocuments stores the multipart "files" parts under the uploads
// directory. Unsupported names are reported back rather than failing the
// request.
func (s *Server) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.Config.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, http.StatusBadRequest, "No files were uploaded.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, "No files were uploaded.")
		return
	}

	resp := uploadResponse{
		Uploaded:   make([]corpus.StoredFile, 0, len(files)),
		Rejected:   []string{},
		CorpusPath: s.deps.Config.Corpus.Path,
	}
	for _, fh := range files {
		name := fh.Filename
		if name == "" {
			name = "document"
		}
		if !s.deps.Uploads.Supported(name) {
			resp.Rejected = append(resp.Rejected, name)
			continue
		}
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("reading %s failed", name))
			return
		}
		stored, err := s.deps.Uploads.Save(name, f)
		f.Close()
		if err != nil {
			logger.FromContext(r.Context()).Error("saving upload failed", "filename", name, "error", err)
			s.writeAppError(w, err)
			return
		}
		resp.Uploaded = append(resp.Uploaded, stored)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Uploads.List()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listDocumentsResponse{Documents: docs, CorpusPath: s.deps.Config.Corpus.Path})
}

func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	storedAs := r.URL.Query().Get("stored_as")
	if storedAs == "" {
		s.writeValidationError(w, &ValidationError{Fields: map[string]string{"stored_as": "stored_as is required"}})
		return
	}
	if err := s.deps.Uploads.Delete(storedAs); err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteDocumentResponse{Deleted: storedAs, CorpusPath: s.deps.Config.Corpus.Path})
}

func (s *Server) DeleteAllDocuments(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Uploads.DeleteAll()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteAllResponse{DeletedCount: n, CorpusPath: s.deps.Config.Corpus.Path})
}

// IndexBuilds lists recent ingest runs along with the current build.
func (s *Server) IndexBuilds(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.listLimit(w, r)
	if !ok {
		return
	}
	resp := map[string]any{}
	if s.deps.Engine.IndexExists() {
		if stats, err := s.deps.Engine.Stats(); err == nil {
			resp["current"] = stats
		} else {
			resp["current_error"] = apperrors.Message(err)
		}
	}
	if retained, err := s.deps.Engine.RetainedBuilds(); err == nil {
		resp["retained"] = retained
	}
	if s.deps.Builds == nil {
		resp["status"] = "disabled"
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	builds, err := s.deps.Builds.Recent(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing builds failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "listing builds failed")
		return
	}
	resp["builds"] = builds
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := s.deps.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	resp := map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	}
	if n, err := s.deps.Cache.Size(r.Context()); err == nil {
		resp["entries"] = n
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// retrieve runs the query through the cache when one is configured. It also
// returns whether the cache answered and the build the results came from.
func (s *Server) retrieve(ctx context.Context, question string, k int) ([]retrieval.Result, bool, string, error) {
	if !s.deps.Engine.IndexExists() {
		return nil, false, "", errNoIndex
	}
	buildID, err := s.deps.Engine.CurrentBuild()
	if err != nil {
		return nil, false, "", s.retrievalError(err)
	}

	start := time.Now()
	var (
		results  []retrieval.Result
		cacheHit bool
	)
	status := "none"
	if s.deps.Cache != nil {
		results, cacheHit, err = s.deps.Cache.GetOrCompute(ctx, buildID, question, k, func() ([]retrieval.Result, error) {
			return s.deps.Engine.Query(ctx, question, k)
		})
		status = "miss"
		if cacheHit {
			status = "hit"
			s.deps.Metrics.CacheHits.Inc()
		} else {
			s.deps.Metrics.CacheMisses.Inc()
		}
	} else {
		results, err = s.deps.Engine.Query(ctx, question, k)
	}
	if err != nil {
		return nil, false, buildID, s.retrievalError(err)
	}
	s.deps.Metrics.QueryLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	s.deps.Metrics.ResultsCount.Observe(float64(len(results)))
	if results == nil {
		results = []retrieval.Result{}
	}
	return results, cacheHit, buildID, nil
}

func (s *Server) retrievalError(err error) error {
	if errors.Is(err, apperrors.ErrIndexAbsent) {
		return errNoIndex
	}
	return err
}

// decodeQuery reads and validates a QueryRequest, writing the error
// response itself when that fails.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request, endpoint string) (*QueryRequest, bool) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.deps.Metrics.QueriesTotal.WithLabelValues(endpoint, "invalid").Inc()
		s.writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	if err := ValidateQueryRequest(&req); err != nil {
		s.deps.Metrics.QueriesTotal.WithLabelValues(endpoint, "invalid").Inc()
		var verr *ValidationError
		errors.As(err, &verr)
		s.writeValidationError(w, verr)
		return nil, false
	}
	return &req, true
}

func (s *Server) listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

// setCacheHeader reports on X-Cache whether retrieval was served from the
// query cache.
func setCacheHeader(w http.ResponseWriter, enabled, hit bool) {
	if !enabled {
		return
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

func topScore(results []retrieval.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Score
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeValidationError(w http.ResponseWriter, verr *ValidationError) {
	s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "validation failed",
		"fields": verr.Fields,
	})
}

// writeAppError maps err onto its status code. Server-side failures get a
// generic message; the detail stays in the log.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := apperrors.Message(err)
	if status >= http.StatusInternalServerError && !isClientVisible(err) {
		msg = http.StatusText(status)
	}
	s.writeError(w, status, msg)
}

// isClientVisible reports errors whose text is safe and useful to return
// even with a 5xx status.
func isClientVisible(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) ||
		errors.Is(err, apperrors.ErrUpstream) ||
		errors.Is(err, apperrors.ErrUnavailable) ||
		errors.Is(err, apperrors.ErrTimeout)
}
