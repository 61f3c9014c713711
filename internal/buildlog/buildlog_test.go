package buildlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
	"github.com/joecupano/airgap-lab-ai/pkg/postgres"
)

type fakeProducer struct {
	events []kafka.Event
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, e kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestFromResult(t *testing.T) {
	ok := FromResult(retrieval.IngestResult{Root: "/c", BuildID: "build_1", Chunks: 3, Duration: 1500 * time.Millisecond}, nil)
	if ok.Status != StatusOK || ok.DurationMs != 1500 || ok.Chunks != 3 {
		t.Errorf("ok build = %+v", ok)
	}
	if empty := FromResult(retrieval.IngestResult{Root: "/c"}, nil); empty.Status != StatusEmpty {
		t.Errorf("empty status = %s", empty.Status)
	}
	failed := FromResult(retrieval.IngestResult{Root: "/c"}, fmt.Errorf("walking: %w", apperrors.ErrIndexCorrupt))
	if failed.Status != StatusError || failed.Error == "" {
		t.Errorf("failed build = %+v", failed)
	}
}

func TestRecordPublishesOnlySuccessfulBuilds(t *testing.T) {
	p := &fakeProducer{}
	l := New(NewMemoryRepository(10), p)
	ctx := context.Background()
	l.Record(ctx, Build{BuildID: "build_1", Status: StatusOK, Chunks: 5})
	l.Record(ctx, Build{Status: StatusEmpty})
	l.Record(ctx, Build{Status: StatusError, Error: "boom"})

	if len(p.events) != 1 || p.events[0].Key != "build_1" {
		t.Fatalf("events = %+v", p.events)
	}
	ev := p.events[0].Value.(IndexCompleteEvent)
	if ev.BuildID != "build_1" || ev.Chunks != 5 {
		t.Errorf("event = %+v", ev)
	}
	recent, _ := l.Recent(ctx, 0)
	if len(recent) != 3 || recent[0].Status != StatusError || recent[2].BuildID != "build_1" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestRecordKeepsRowWhenPublishFails(t *testing.T) {
	repo := NewMemoryRepository(10)
	l := New(repo, &fakeProducer{err: errors.New("broker down")})
	err := l.Record(context.Background(), Build{BuildID: "build_2", Status: StatusOK})
	if err == nil {
		t.Fatal("expected publish error")
	}
	if recent, _ := repo.Recent(context.Background(), 5); len(recent) != 1 {
		t.Errorf("stored %d builds, want 1", len(recent))
	}
}

func TestMemoryRepositoryLimit(t *testing.T) {
	r := NewMemoryRepository(2)
	for i := 0; i < 5; i++ {
		r.Insert(context.Background(), Build{BuildID: fmt.Sprintf("b%d", i)})
	}
	got, _ := r.Recent(context.Background(), 10)
	if len(got) != 2 || got[0].BuildID != "b4" || got[1].BuildID != "b3" {
		t.Errorf("Recent() = %+v", got)
	}
}

func TestPostgresRepository(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	defer db.Close()
	repo, err := NewPostgresRepository(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	id := fmt.Sprintf("build_test_%d", time.Now().UnixNano())
	if err := repo.Insert(ctx, Build{BuildID: id, Root: "/c", Status: StatusOK, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Recent(ctx, 1)
	if err != nil || len(got) != 1 || got[0].BuildID != id {
		t.Errorf("Recent() = %+v, %v", got, err)
	}
}
