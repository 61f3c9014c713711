// Package retrieval is the entry point of the lexical retrieval engine. It
// rebuilds the whole index from a corpus directory on every ingest and
// answers queries against the most recently published build.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joecupano/airgap-lab-ai/internal/corpus"
	"github.com/joecupano/airgap-lab-ai/internal/extract"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/chunker"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/index"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/scorer"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/store"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/vocab"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/tracing"
)

// Result is a ranked passage.
type Result = scorer.Result

// Options are the tunables of the engine.
type Options struct {
	MaxChars    int
	Overlap     int
	MaxTerms    int
	DefaultTopK int
	MaxTopK     int
	Exclude     []string
	Tracing     bool
	// IngestTimeout bounds a rebuild. Zero means no limit.
	IngestTimeout time.Duration
}

// OptionsFromConfig collects the engine settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxChars:    cfg.Chunker.MaxChars,
		Overlap:     cfg.Chunker.Overlap,
		MaxTerms:    cfg.Vocab.MaxTerms,
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
		Exclude:     cfg.Corpus.Exclude,
		Tracing:     cfg.Tracing.Enabled,

		IngestTimeout: cfg.Server.IngestTimeout,
	}
}

// IngestResult summarises one ingest. Chunks and Files are zero when the
// corpus had nothing indexable, in which case BuildID is empty and the
// previous build stays current.
type IngestResult struct {
	Root     string        `json:"corpus_path"`
	Chunks   int           `json:"indexed_chunks"`
	Files    int           `json:"indexed_files"`
	Skipped  int           `json:"skipped_files"`
	Terms    int           `json:"terms"`
	BuildID  string        `json:"build_id,omitempty"`
	Duration time.Duration `json:"-"`
}

// Stats describes the loaded build.
type Stats struct {
	BuildID string `json:"build_id"`
	Chunks  int    `json:"chunks"`
	Terms   int    `json:"terms"`
	NNZ     int    `json:"nnz"`
}

type loaded struct {
	buildID string
	scorer  *scorer.Scorer
}

// Engine is safe for concurrent use. Ingests are serialised; queries run
// concurrently against an immutable snapshot.
type Engine struct {
	opts      Options
	chunker   *chunker.Chunker
	builder   *vocab.Builder
	store     *store.Store
	extractor *extract.Registry
	logger    *slog.Logger

	current atomic.Pointer[loaded]
	loadMu  sync.Mutex

	ingestMu sync.Mutex
	group    singleflight.Group

	hooksMu sync.RWMutex
	hooks   []func(context.Context, IngestResult)
}

// New builds an Engine over st.
func New(opts Options, st *store.Store, ex *extract.Registry) (*Engine, error) {
	c, err := chunker.New(opts.MaxChars, opts.Overlap)
	if err != nil {
		return nil, err
	}
	if opts.MaxTopK <= 0 {
		return nil, fmt.Errorf("max top k must be positive, got %d", opts.MaxTopK)
	}
	if opts.DefaultTopK <= 0 || opts.DefaultTopK > opts.MaxTopK {
		opts.DefaultTopK = min(max(opts.DefaultTopK, 1), opts.MaxTopK)
	}
	return &Engine{
		opts:      opts,
		chunker:   c,
		builder:   vocab.NewBuilder(opts.MaxTerms),
		store:     st,
		extractor: ex,
		logger:    logger.WithComponent("retrieval"),
	}, nil
}

// OnIngest registers fn to run after every ingest that published a build.
func (e *Engine) OnIngest(fn func(context.Context, IngestResult)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Supported reports whether a file name has an indexable extension.
func (e *Engine) Supported(name string) bool {
	return e.extractor.Supported(name)
}

// RetainedBuilds lists the build ids still on disk, oldest first.
func (e *Engine) RetainedBuilds() ([]string, error) {
	return e.store.Builds()
}

// IndexExists reports whether a structurally valid build is published.
func (e *Engine) IndexExists() bool {
	return e.store.Exists()
}

// ClampK maps a requested result count onto [1, MaxTopK]; zero or negative
// selects the default.
func (e *Engine) ClampK(k int) int {
	if k <= 0 {
		k = e.opts.DefaultTopK
	}
	return min(max(k, 1), e.opts.MaxTopK)
}

// Ingest rebuilds the index from every supported file under root.
// Concurrent calls for the same root share one rebuild. The rebuild is
// detached from the cancellation of whichever caller started it and is
// bounded by IngestTimeout instead.
func (e *Engine) Ingest(ctx context.Context, root string) (IngestResult, error) {
	v, err, shared := e.group.Do(root, func() (any, error) {
		buildCtx := context.WithoutCancel(ctx)
		if e.opts.IngestTimeout > 0 {
			var cancel context.CancelFunc
			buildCtx, cancel = context.WithTimeout(buildCtx, e.opts.IngestTimeout)
			defer cancel()
		}
		e.ingestMu.Lock()
		defer e.ingestMu.Unlock()
		return e.ingest(buildCtx, root)
	})
	if shared {
		logger.FromContext(ctx).Debug("joined in-flight ingest", "root", root)
	}
	if err != nil {
		return IngestResult{Root: root}, err
	}
	return v.(IngestResult), nil
}

func (e *Engine) ingest(ctx context.Context, root string) (IngestResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "retrieval")
	result := IngestResult{Root: root}

	var span *tracing.Span
	if e.opts.Tracing {
		ctx, span = tracing.StartSpan(ctx, "ingest", logger.RequestID(ctx))
		defer func() {
			span.End()
			span.Log()
		}()
	}

	chunks, files, skipped, err := e.collect(ctx, root)
	if err != nil {
		return result, err
	}
	result.Skipped = skipped

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	_, fitSpan := tracing.StartChildSpan(ctx, "fit")
	v, m, err := e.builder.Fit(texts)
	fitSpan.End()
	if errors.Is(err, apperrors.ErrEmptyCorpus) {
		result.Duration = time.Since(start)
		log.Warn("corpus produced no chunks, keeping previous index",
			"root", root,
			"skipped_files", skipped,
		)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("building vocabulary: %w", err)
	}

	ix := &index.Index{
		BuildID:    store.NewBuildID(),
		Vocabulary: v,
		Matrix:     m,
		Chunks:     chunks,
	}
	_, saveSpan := tracing.StartChildSpan(ctx, "save")
	buildID, err := e.store.Save(ix)
	saveSpan.End()
	if err != nil {
		return result, fmt.Errorf("saving index: %w", err)
	}
	e.current.Store(&loaded{buildID: buildID, scorer: scorer.New(ix)})

	result.Chunks = len(chunks)
	result.Files = files
	result.Terms = v.Len()
	result.BuildID = buildID
	result.Duration = time.Since(start)
	if span != nil {
		span.SetAttr("build_id", buildID)
		span.SetAttr("chunks", result.Chunks)
	}
	log.Info("corpus indexed",
		"root", root,
		"build_id", buildID,
		"files", files,
		"skipped_files", skipped,
		"chunks", result.Chunks,
		"terms", result.Terms,
		"nnz", m.NNZ(),
		"duration_ms", result.Duration.Milliseconds(),
	)

	e.hooksMu.RLock()
	hooks := append([]func(context.Context, IngestResult){}, e.hooks...)
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, result)
	}
	return result, nil
}

// collect extracts and chunks every supported file. Files that fail to
// extract or yield no chunks are skipped.
func (e *Engine) collect(ctx context.Context, root string) ([]index.Chunk, int, int, error) {
	_, span := tracing.StartChildSpan(ctx, "collect")
	defer span.End()

	walker, err := corpus.NewWalker(root, e.extractor.Supported, e.opts.Exclude)
	if err != nil {
		return nil, 0, 0, err
	}
	files, err := walker.Walk(ctx)
	if err != nil {
		return nil, 0, 0, err
	}

	var chunks []index.Chunk
	indexed, skipped := 0, 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		parts, err := e.passages(ctx, f)
		if err != nil {
			e.logger.Debug("skipping unreadable file", "file", f.Rel, "error", err)
			skipped++
			continue
		}
		if len(parts) == 0 {
			e.logger.Debug("skipping file without text", "file", f.Rel)
			skipped++
			continue
		}
		indexed++
		for i, part := range parts {
			chunks = append(chunks, index.Chunk{Source: f.Rel, ChunkID: i + 1, Text: part})
		}
	}
	span.SetAttr("files", indexed)
	span.SetAttr("chunks", len(chunks))
	return chunks, indexed, skipped, nil
}

// passages extracts and splits one file. A panic while handling the file is
// returned as an error so the rest of the corpus still gets indexed.
func (e *Engine) passages(ctx context.Context, f corpus.File) (parts []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing %s: %v", f.Rel, r)
		}
	}()
	text, err := e.extractor.Extract(ctx, f.Path)
	if err != nil {
		return nil, err
	}
	return e.chunker.Split(text), nil
}

// Query returns at most ClampK(k) passages with positive similarity to
// question, best first. It fails with ErrIndexAbsent when nothing has been
// ingested and ErrIndexCorrupt when the published build cannot be loaded.
func (e *Engine) Query(ctx context.Context, question string, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := e.scorer()
	if err != nil {
		return nil, err
	}
	var span *tracing.Span
	if e.opts.Tracing {
		_, span = tracing.StartSpan(ctx, "query", logger.RequestID(ctx))
	}
	results := s.Search(question, e.ClampK(k))
	if span != nil {
		span.SetAttr("results", len(results))
		span.End()
		span.Log()
	}
	return results, nil
}

// Stats describes the current build, loading it if necessary.
func (e *Engine) Stats() (Stats, error) {
	s, err := e.scorer()
	if err != nil {
		return Stats{}, err
	}
	ix := s.Index()
	return Stats{
		BuildID: ix.BuildID,
		Chunks:  ix.Len(),
		Terms:   ix.Vocabulary.Len(),
		NNZ:     ix.Matrix.NNZ(),
	}, nil
}

// CurrentBuild returns the published build id without loading it.
func (e *Engine) CurrentBuild() (string, error) {
	return e.store.Current()
}

// scorer returns a scorer for the published build, reloading when CURRENT
// moved since the last load.
func (e *Engine) scorer() (*scorer.Scorer, error) {
	id, err := e.store.Current()
	if err != nil {
		return nil, err
	}
	if cur := e.current.Load(); cur != nil && cur.buildID == id {
		return cur.scorer, nil
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if cur := e.current.Load(); cur != nil && cur.buildID == id {
		return cur.scorer, nil
	}
	ix, err := e.store.LoadBuild(id)
	if err != nil {
		return nil, err
	}
	s := scorer.New(ix)
	e.current.Store(&loaded{buildID: id, scorer: s})
	e.logger.Info("index loaded", "build_id", id, "chunks", ix.Len(), "terms", ix.Vocabulary.Len())
	return s, nil
}
