package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
)

// AggregatedStats is the snapshot served by the analytics endpoint.
type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	TotalAsks         int64        `json:"total_asks"`
	FailedAsks        int64        `json:"failed_asks"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	P50GenerateMs     int64        `json:"p50_generate_ms"`
	P95GenerateMs     int64        `json:"p95_generate_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	IndexBuilds       int64        `json:"index_builds"`
	LastBuild         *IndexEvent  `json:"last_build,omitempty"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds events into running totals. Latency percentiles cover
// the most recent window of queries.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	totalAsks         int64
	failedAsks        int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	indexBuilds       int64
	lastBuild         *IndexEvent
	latencies         *window
	generate          *window
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

// NewAggregator creates an Aggregator keeping windowSize latency samples.
func NewAggregator(windowSize int) *Aggregator {
	if windowSize <= 0 {
		windowSize = 10000
	}
	return &Aggregator{
		latencies:         newWindow(windowSize),
		generate:          newWindow(windowSize),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts the aggregator to a Kafka consumer. Undecodable
// messages are logged and committed so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		if err := agg.ingest(value); err != nil {
			agg.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
		}
		return nil
	}
}

// Publisher returns a kafka.Publisher that feeds events straight into the
// aggregator, for deployments without a broker.
func (a *Aggregator) Publisher() kafka.Publisher {
	return localPublisher{agg: a}
}

// Record folds a single event value into the statistics.
func (a *Aggregator) Record(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.recordSearch(e)
	case *SearchEvent:
		a.recordSearch(*e)
	case AskEvent:
		a.recordAsk(e)
	case *AskEvent:
		a.recordAsk(*e)
	case IndexEvent:
		a.recordIndex(e)
	case *IndexEvent:
		a.recordIndex(*e)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

func (a *Aggregator) ingest(data []byte) error {
	event, err := decodeEvent(data)
	if err != nil {
		return err
	}
	a.Record(event)
	return nil
}

func (a *Aggregator) recordSearch(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	if e.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.recordQueryLocked(e.Query, e.Returned, e.LatencyMs)
}

func (a *Aggregator) recordAsk(e AskEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalAsks++
	if e.Failed {
		a.failedAsks++
	} else {
		a.generate.add(e.GenerateMs)
	}
	a.recordQueryLocked(e.Query, e.Returned, e.RetrievalMs)
}

func (a *Aggregator) recordQueryLocked(query string, returned int, latencyMs int64) {
	a.latencies.add(latencyMs)
	a.queryCounts[query]++
	if returned == 0 {
		a.zeroResults++
		a.zeroResultQueries[query]++
	}
}

func (a *Aggregator) recordIndex(e IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indexBuilds++
	a.lastBuild = &e
}

// Stats returns a consistent snapshot.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		TotalAsks:       a.totalAsks,
		FailedAsks:      a.failedAsks,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		IndexBuilds:     a.indexBuilds,
	}
	if a.lastBuild != nil {
		last := *a.lastBuild
		stats.LastBuild = &last
	}
	if sorted := a.latencies.sorted(); len(sorted) > 0 {
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if sorted := a.generate.sorted(); len(sorted) > 0 {
		stats.P50GenerateMs = percentile(sorted, 50)
		stats.P95GenerateMs = percentile(sorted, 95)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches+stats.TotalAsks) / elapsed
	}
	return stats
}

type localPublisher struct{ agg *Aggregator }

func (p localPublisher) Publish(ctx context.Context, event kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{event})
}

// PublishBatch round-trips through JSON so local and Kafka delivery decode
// identically.
func (p localPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event.Value)
		if err != nil {
			return fmt.Errorf("marshaling event value: %w", err)
		}
		if err := p.agg.ingest(data); err != nil {
			return err
		}
	}
	return nil
}

func (localPublisher) Close() error { return nil }

// window is a fixed-size ring of latency samples.
type window struct {
	samples []int64
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]int64, size)}
}

func (w *window) add(v int64) {
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) sorted() []int64 {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	out := make([]int64, n)
	copy(out, w.samples[:n])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties in lexical order.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
