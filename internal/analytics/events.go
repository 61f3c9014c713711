// Package analytics records what users ask and how retrieval performed.
// Handlers Track events on a Collector, which batches them onto Kafka or
// straight into an in-process Aggregator; the Aggregator keeps windowed
// statistics served at /api/v1/analytics.
package analytics

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventSearch EventType = "search"
	EventAsk    EventType = "ask"
	EventIndex  EventType = "index"
)

// SearchEvent describes one retrieval-only query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	TopK      int       `json:"top_k"`
	Returned  int       `json:"returned"`
	TopScore  float64   `json:"top_score"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	BuildID   string    `json:"build_id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// AskEvent describes one question answered by the model.
type AskEvent struct {
	Type        EventType `json:"type"`
	Query       string    `json:"query"`
	TopK        int       `json:"top_k"`
	Returned    int       `json:"returned"`
	RetrievalMs int64     `json:"retrieval_ms"`
	GenerateMs  int64     `json:"generate_ms"`
	Model       string    `json:"model"`
	Failed      bool      `json:"failed"`
	BuildID     string    `json:"build_id"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// IndexEvent describes one ingest run.
type IndexEvent struct {
	Type       EventType `json:"type"`
	BuildID    string    `json:"build_id"`
	Chunks     int       `json:"chunks"`
	Files      int       `json:"files"`
	Skipped    int       `json:"skipped"`
	Terms      int       `json:"terms"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// decodeEvent peeks at the type field and decodes into the matching struct.
func decodeEvent(data []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding analytics event: %w", err)
	}
	var (
		event any
		err   error
	)
	switch head.Type {
	case EventSearch:
		var e SearchEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventAsk:
		var e AskEvent
		err = json.Unmarshal(data, &e)
		event = e
	case EventIndex:
		var e IndexEvent
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, fmt.Errorf("unknown analytics event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", head.Type, err)
	}
	return event, nil
}

// eventKey partitions events by type.
func eventKey(event any) string {
	switch event.(type) {
	case SearchEvent, *SearchEvent:
		return string(EventSearch)
	case AskEvent, *AskEvent:
		return string(EventAsk)
	case IndexEvent, *IndexEvent:
		return string(EventIndex)
	}
	return "analytics"
}
