package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{e})
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollectorBatchesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 16, 2, time.Hour)
	c.Start(context.Background())
	c.Track(SearchEvent{Type: EventSearch, Query: "a"})
	c.Track(AskEvent{Type: EventAsk, Query: "b"})
	c.Track(IndexEvent{Type: EventIndex, BuildID: "build_1"})
	c.Close()

	if got := pub.count(); got != 3 {
		t.Fatalf("published %d events, want 3", got)
	}
	if len(pub.batches[0]) != 2 {
		t.Errorf("first batch size = %d, want 2", len(pub.batches[0]))
	}
	if pub.batches[0][0].Key != "search" || pub.batches[0][1].Key != "ask" || pub.batches[1][0].Key != "index" {
		t.Errorf("keys = %q %q %q", pub.batches[0][0].Key, pub.batches[0][1].Key, pub.batches[1][0].Key)
	}
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(&recordingPublisher{}, 1, 10, time.Hour)
	c.Track(SearchEvent{})
	c.Track(SearchEvent{})
	if c.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", c.Dropped())
	}
	var nilCollector *Collector
	nilCollector.Track(SearchEvent{})
}

func TestLocalPipeline(t *testing.T) {
	agg := NewAggregator(100)
	c := NewCollector(agg.Publisher(), 16, 100, time.Hour)
	c.Start(context.Background())
	c.Track(SearchEvent{Type: EventSearch, Query: "fox", Returned: 2, LatencyMs: 4, CacheHit: true})
	c.Track(SearchEvent{Type: EventSearch, Query: "fox", Returned: 1, LatencyMs: 6})
	c.Track(AskEvent{Type: EventAsk, Query: "unicorn", Returned: 0, RetrievalMs: 2, GenerateMs: 900})
	c.Track(AskEvent{Type: EventAsk, Query: "fox", Returned: 1, Failed: true})
	c.Track(IndexEvent{Type: EventIndex, BuildID: "build_7", Chunks: 12, Status: "ok"})
	c.Close()

	s := agg.Stats()
	if s.TotalSearches != 2 || s.TotalAsks != 2 || s.FailedAsks != 1 {
		t.Errorf("totals = %+v", s)
	}
	if s.CacheHits != 1 || s.CacheMisses != 1 {
		t.Errorf("cache = %d/%d", s.CacheHits, s.CacheMisses)
	}
	if s.ZeroResultCount != 1 || len(s.ZeroResultQueries) != 1 || s.ZeroResultQueries[0].Query != "unicorn" {
		t.Errorf("zero results = %d %v", s.ZeroResultCount, s.ZeroResultQueries)
	}
	if len(s.TopQueries) == 0 || s.TopQueries[0] != (QueryCount{Query: "fox", Count: 3}) {
		t.Errorf("top queries = %v", s.TopQueries)
	}
	if s.P50GenerateMs != 900 {
		t.Errorf("p50 generate = %d", s.P50GenerateMs)
	}
	if s.IndexBuilds != 1 || s.LastBuild == nil || s.LastBuild.BuildID != "build_7" {
		t.Errorf("builds = %d last = %+v", s.IndexBuilds, s.LastBuild)
	}
}

func TestHandleEventSkipsGarbage(t *testing.T) {
	agg := NewAggregator(10)
	h := HandleEvent(agg)
	if err := h(context.Background(), nil, []byte("not json")); err != nil {
		t.Errorf("handler error = %v", err)
	}
	if err := h(context.Background(), nil, []byte(`{"type":"mystery"}`)); err != nil {
		t.Errorf("handler error = %v", err)
	}
	data, _ := json.Marshal(SearchEvent{Type: EventSearch, Query: "q", Returned: 3})
	h(context.Background(), []byte("search"), data)
	if agg.Stats().TotalSearches != 1 {
		t.Error("valid event not recorded")
	}
}

func TestWindowKeepsRecentSamples(t *testing.T) {
	w := newWindow(3)
	for _, v := range []int64{100, 1, 2, 3} {
		w.add(v)
	}
	got := w.sorted()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("sorted() = %v", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if percentile(sorted, 50) != 6 || percentile(sorted, 99) != 10 || percentile(nil, 50) != 0 {
		t.Error("unexpected percentile")
	}
}

func TestHandlerStats(t *testing.T) {
	agg := NewAggregator(10)
	agg.Record(&SearchEvent{Type: EventSearch, Query: "q", Returned: 1})
	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	var s AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil || s.TotalSearches != 1 {
		t.Errorf("stats = %+v, %v", s, err)
	}

	rec = httptest.NewRecorder()
	NewHandler(nil).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("disabled code = %d", rec.Code)
	}
}

func TestHandlerStatsTrimsLeaderboards(t *testing.T) {
	agg := NewAggregator(10)
	for _, q := range []string{"alpha", "beta", "gamma"} {
		agg.Record(&SearchEvent{Type: EventSearch, Query: q, Returned: 1})
	}
	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top=1", nil))
	var s AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if len(s.TopQueries) != 1 || s.TotalSearches != 3 {
		t.Errorf("top_queries = %v, total = %d", s.TopQueries, s.TotalSearches)
	}
}
