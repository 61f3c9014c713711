// Package api serves the retrieval engine and the answer generator over
// HTTP. Server wires the optional collaborators (cache, analytics, build
// log) around the engine; any of them may be nil.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/analytics"
	"github.com/joecupano/airgap-lab-ai/internal/analytics/snapshot"
	"github.com/joecupano/airgap-lab-ai/internal/api/cache"
	"github.com/joecupano/airgap-lab-ai/internal/buildlog"
	"github.com/joecupano/airgap-lab-ai/internal/corpus"
	"github.com/joecupano/airgap-lab-ai/internal/llm"
	"github.com/joecupano/airgap-lab-ai/internal/ratelimit"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	"github.com/joecupano/airgap-lab-ai/pkg/health"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/metrics"
	"github.com/joecupano/airgap-lab-ai/pkg/middleware"
	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

// Deps are the collaborators of a Server. Config, Engine, Generator, Uploads
// and Metrics are required.
type Deps struct {
	Config     *config.Config
	Engine     *retrieval.Engine
	Generator  llm.Generator
	Uploads    *corpus.Uploads
	Metrics    *metrics.Metrics
	Health     *health.Checker
	Cache      *cache.QueryCache
	Collector  *analytics.Collector
	Aggregator *analytics.Aggregator
	Snapshots  *snapshot.Store
	Builds     *buildlog.Log
	Limiter    *ratelimit.Limiter
}

type Server struct {
	deps      Deps
	analytics *analytics.Handler
	snapshots *snapshot.Handler
	logger    *slog.Logger
}

// New builds a Server and hooks cache invalidation and index gauges onto
// the engine's successful builds.
func New(d Deps) *Server {
	s := &Server{
		deps:      d,
		analytics: analytics.NewHandler(d.Aggregator),
		snapshots: snapshot.NewHandler(d.Snapshots),
		logger:    logger.WithComponent("api"),
	}
	d.Engine.OnIngest(s.afterBuild)
	if d.Health != nil {
		d.Health.Register("index", health.Ping(false, s.probeIndex))
		d.Health.Register("llm", health.Ping(false, s.probeGenerator))
	}
	return s
}

// Routes registers every endpoint on a new mux. Query endpoints carry their
// own deadlines; ingest is bounded inside Reindex.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.Health)
	if s.deps.Health != nil {
		mux.HandleFunc("GET /health/live", s.deps.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", s.deps.Health.ReadyHandler())
	}
	mux.HandleFunc("POST /ingest", s.Ingest)
	cfg := s.deps.Config
	mux.Handle("POST /ask", middleware.Timeout(cfg.Server.QueryTimeout+cfg.LLM.Timeout)(http.HandlerFunc(s.Ask)))
	mux.Handle("POST /search", middleware.Timeout(cfg.Server.QueryTimeout)(http.HandlerFunc(s.Search)))
	mux.HandleFunc("POST /documents/upload", s.UploadDocuments)
	mux.HandleFunc("GET /documents", s.ListDocuments)
	mux.HandleFunc("DELETE /documents", s.DeleteDocument)
	mux.HandleFunc("DELETE /documents/all", s.DeleteAllDocuments)
	mux.HandleFunc("GET /api/v1/analytics", s.analytics.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", s.snapshots.List)
	mux.HandleFunc("GET /api/v1/index/builds", s.IndexBuilds)
	mux.HandleFunc("GET /api/v1/cache/stats", s.CacheStats)
	mux.HandleFunc("DELETE /api/v1/cache", s.CacheInvalidate)
	return mux
}

// Handler wraps Routes in the middleware chain. CORS and rate limiting are
// added only when configured; the limiter guards /ask alone.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Metrics(s.deps.Metrics),
	}
	if origins := s.deps.Config.Server.CORSOrigins; len(origins) > 0 {
		mws = append(mws, middleware.CORS(middleware.DefaultCORSConfig(origins)))
	}
	if s.deps.Limiter != nil {
		mws = append(mws, middleware.RateLimit(s.deps.Limiter, s.deps.Metrics, "/ask"))
	}
	return middleware.Chain(s.Routes(), mws...)
}

// Reindex rebuilds the index from the configured corpus and records the
// outcome in metrics, analytics and the build log. The HTTP handler and the
// corpus watcher both come through here.
func (s *Server) Reindex(ctx context.Context) (retrieval.IngestResult, error) {
	root := s.deps.Config.Corpus.Path
	start := time.Now()
	res, err := resilience.Call(ctx, s.deps.Config.Server.IngestTimeout, "ingest", func(ctx context.Context) (retrieval.IngestResult, error) {
		return s.deps.Engine.Ingest(ctx, root)
	})
	if res.Root == "" {
		res.Root = root
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	b := buildlog.FromResult(res, err)
	s.deps.Metrics.IngestRunsTotal.WithLabelValues(b.Status).Inc()
	s.deps.Metrics.IngestDuration.Observe(res.Duration.Seconds())
	s.deps.Collector.Track(analytics.IndexEvent{
		Type:       analytics.EventIndex,
		BuildID:    b.BuildID,
		Chunks:     b.Chunks,
		Files:      b.Files,
		Skipped:    b.Skipped,
		Terms:      b.Terms,
		DurationMs: b.DurationMs,
		Status:     b.Status,
		Timestamp:  b.CreatedAt,
	})
	if s.deps.Builds != nil {
		// Failures are logged by the build log and must not fail the ingest.
		_ = s.deps.Builds.Record(ctx, b)
	}
	return res, err
}

// afterBuild runs for every published build.
func (s *Server) afterBuild(ctx context.Context, res retrieval.IngestResult) {
	s.deps.Metrics.ObserveIndex(res.Chunks, res.Files, res.Terms)
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Invalidate(ctx); err != nil {
			s.logger.Warn("cache invalidation failed", "build_id", res.BuildID, "error", err)
		}
	}
}

func (s *Server) probeIndex(context.Context) error {
	if !s.deps.Engine.IndexExists() {
		return errors.New("no index published")
	}
	return nil
}

func (s *Server) probeGenerator(context.Context) error {
	type breakered interface {
		Breaker() *resilience.CircuitBreaker
	}
	if b, ok := s.deps.Generator.(breakered); ok && b.Breaker().GetState() == resilience.StateOpen {
		return errors.New("circuit open")
	}
	if s.deps.Generator.Model() == "" {
		return errors.New("no model selected")
	}
	return nil
}
