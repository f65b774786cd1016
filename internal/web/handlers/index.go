package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// IndexHandler maintains the in-memory encoding index
type IndexHandler struct {
	rebuilder database.IndexRebuilder
	stats     *StatsHandler
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(rebuilder database.IndexRebuilder, stats *StatsHandler) *IndexHandler {
	return &IndexHandler{
		rebuilder: rebuilder,
		stats:     stats,
	}
}

// RebuildIndexResponse represents the response from rebuilding the encoding index
type RebuildIndexResponse struct {
	Success    bool  `json:"success"`
	Count      int   `json:"count"`
	DurationMs int64 `json:"duration_ms"`
}

// Rebuild reloads the encoding index from the encoding store
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if h.rebuilder == nil {
		respondError(w, http.StatusInternalServerError, "encoding index not registered")
		return
	}
	startTime := time.Now()

	if err := h.rebuilder.RebuildIndex(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to rebuild encoding index: %v", err))
		return
	}

	// Save index to disk if path is configured
	if err := h.rebuilder.SaveIndex(); err != nil {
		// The rebuilt index is usable in memory
		fmt.Printf("Warning: failed to save encoding index to disk: %v\n", err)
	}
	h.stats.InvalidateCache()

	respondJSON(w, http.StatusOK, RebuildIndexResponse{
		Success:    true,
		Count:      h.rebuilder.IndexCount(),
		DurationMs: time.Since(startTime).Milliseconds(),
	})
}
