package api

import (
	"errors"
	"log/slog"
	"net/http"

	"printcast/pkg/announce"
)

// Announcements fires configured announcements on demand.
type Announcements interface {
	Names() []string
	Trigger(name string) error
}

// AnnouncementsHandler lists and triggers announcements.
type AnnouncementsHandler struct {
	ann Announcements
}

// NewAnnouncementsHandler creates an AnnouncementsHandler.
func NewAnnouncementsHandler(a Announcements) *AnnouncementsHandler {
	return &AnnouncementsHandler{ann: a}
}

// HandleList handles GET /api/announcements.
func (h *AnnouncementsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"announcements": h.ann.Names()})
}

// HandleTrigger handles POST /api/announcements/{name}.
func (h *AnnouncementsHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.ann.Trigger(name); err != nil {
		if errors.Is(err, announce.ErrUnknown) {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		slog.Error("API: announcement trigger failed", "name", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	slog.Info("API: announcement triggered", "name", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "name": name})
}
