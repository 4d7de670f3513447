package api

import (
	"net/http"
	"strconv"

	"printcast/pkg/history"
)

// HistoryHandler serves the dispatch journal.
type HistoryHandler struct {
	journal *history.Journal
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(j *history.Journal) *HistoryHandler {
	return &HistoryHandler{journal: j}
}

// HandleRecent handles GET /api/history?limit=N.
func (h *HistoryHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be 1-1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	counts, err := h.journal.Counts(r.Context())
	if err != nil {
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"counts":  counts,
	})
}
