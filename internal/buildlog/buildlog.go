// Package buildlog keeps the history of ingest runs. Every run is stored in
// a Repository (PostgreSQL, or memory when no database is configured) and
// successful builds are announced on the index.complete Kafka topic.
package buildlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
)

const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
	StatusError = "error"
)

// Build is one ingest run.
type Build struct {
	BuildID    string    `json:"build_id,omitempty"`
	Root       string    `json:"corpus_path"`
	Chunks     int       `json:"indexed_chunks"`
	Files      int       `json:"indexed_files"`
	Skipped    int       `json:"skipped_files"`
	Terms      int       `json:"terms"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IndexCompleteEvent is published after a build becomes current.
type IndexCompleteEvent struct {
	BuildID     string    `json:"build_id"`
	Chunks      int       `json:"chunks"`
	Files       int       `json:"files"`
	Terms       int       `json:"terms"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Repository stores builds.
type Repository interface {
	Insert(ctx context.Context, b Build) error
	Recent(ctx context.Context, limit int) ([]Build, error)
}

// FromResult describes an ingest outcome as a Build.
func FromResult(res retrieval.IngestResult, err error) Build {
	b := Build{
		BuildID:    res.BuildID,
		Root:       res.Root,
		Chunks:     res.Chunks,
		Files:      res.Files,
		Skipped:    res.Skipped,
		Terms:      res.Terms,
		DurationMs: res.Duration.Milliseconds(),
		Status:     StatusOK,
		CreatedAt:  time.Now().UTC(),
	}
	switch {
	case err != nil:
		b.Status = StatusError
		b.Error = apperrors.Message(err)
	case res.BuildID == "":
		b.Status = StatusEmpty
	}
	return b
}

// Log records builds. The producer may be nil.
type Log struct {
	repo     Repository
	producer kafka.Publisher
	logger   *slog.Logger
}

// New creates a Log over repo.
func New(repo Repository, producer kafka.Publisher) *Log {
	return &Log{
		repo:     repo,
		producer: producer,
		logger:   slog.Default().With("component", "buildlog"),
	}
}

// Record stores b and, for successful builds, publishes an
// IndexCompleteEvent keyed by build id. A publish failure does not undo the
// stored row.
func (l *Log) Record(ctx context.Context, b Build) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	var errs []error
	if err := l.repo.Insert(ctx, b); err != nil {
		errs = append(errs, fmt.Errorf("storing build: %w", err))
	}
	if l.producer != nil && b.Status == StatusOK {
		err := l.producer.Publish(ctx, kafka.Event{
			Key: b.BuildID,
			Value: IndexCompleteEvent{
				BuildID:     b.BuildID,
				Chunks:      b.Chunks,
				Files:       b.Files,
				Terms:       b.Terms,
				DurationMs:  b.DurationMs,
				CompletedAt: b.CreatedAt,
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publishing index.complete: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Error("failed to record build", "build_id", b.BuildID, "status", b.Status, "error", err)
		return err
	}
	l.logger.Debug("build recorded", "build_id", b.BuildID, "status", b.Status)
	return nil
}

// Recent returns up to limit builds, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.repo.Recent(ctx, limit)
}
