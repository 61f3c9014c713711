package snapshot

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Handler serves stored snapshots, newest first.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler serves from store. A nil store reports the feature disabled.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store, logger: slog.Default().With("component", "snapshot-handler")}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}
	snaps, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing snapshots failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing snapshots failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
