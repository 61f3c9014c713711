package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler serves the aggregated statistics.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats writes the current AggregatedStats. The optional top parameter
// trims both query leaderboards.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.aggregator == nil {
		h.write(w, map[string]string{"status": "disabled"})
		return
	}
	stats := h.aggregator.Stats()
	if n, err := strconv.Atoi(r.URL.Query().Get("top")); err == nil && n >= 0 {
		stats.TopQueries = trim(stats.TopQueries, n)
		stats.ZeroResultQueries = trim(stats.ZeroResultQueries, n)
	}
	h.write(w, stats)
}

func (h *Handler) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}

func trim(qs []QueryCount, n int) []QueryCount {
	if len(qs) > n {
		return qs[:n]
	}
	return qs
}
