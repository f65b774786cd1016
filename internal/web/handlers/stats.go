package handlers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/enrollment"
)

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get(date string) (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || c.data.Date != date || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(constants.StatsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	enrollment *enrollment.Service
	attendance *attendance.Service
	index      database.IndexRebuilder
	cache      statsCache
}

// NewStatsHandler creates a new stats handler. index may be nil.
func NewStatsHandler(students *enrollment.Service, att *attendance.Service, index database.IndexRebuilder) *StatsHandler {
	return &StatsHandler{
		enrollment: students,
		attendance: att,
		index:      index,
	}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	if h == nil {
		return
	}
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Date      string `json:"date"`
	Students  int    `json:"students"`
	Templates int    `json:"templates"`
	Present   int    `json:"present"`
	Absent    int    `json:"absent"`
	Unmarked  int    `json:"unmarked"`
}

// Get returns enrollment and attendance counts for a date (default today)
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.attendance.Today()
	}
	if _, err := time.Parse(database.DateLayout, date); err != nil {
		respondServiceError(w, fmt.Errorf("%w: %q", attendance.ErrInvalidDate, date))
		return
	}

	if cached, ok := h.cache.get(date); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	ctx := r.Context()
	students, err := h.enrollment.Count(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	records, err := h.attendance.Records(ctx, database.AttendanceFilter{Date: date})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	stats := &StatsResponse{Date: date, Students: students}
	for _, rec := range records {
		switch rec.Status {
		case database.StatusPresent:
			stats.Present++
		case database.StatusAbsent:
			stats.Absent++
		}
	}
	stats.Unmarked = max(students-stats.Present-stats.Absent, 0)
	if h.index != nil {
		stats.Templates = h.index.IndexCount()
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
