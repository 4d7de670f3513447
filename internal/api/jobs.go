package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"printcast/pkg/dispatch"
	"printcast/pkg/ingress"
	"printcast/pkg/model"
)

// maxEnvelopeBytes bounds a submitted envelope, images included.
const maxEnvelopeBytes = 8 << 20

// VoiceStatus reports the voice worker state.
type VoiceStatus interface {
	Pending() int
	Busy() bool
}

// JobsHandler serves job submission and queue inspection.
type JobsHandler struct {
	sched  *dispatch.Scheduler
	intake *ingress.Intake
	voice  VoiceStatus
}

// NewJobsHandler creates a JobsHandler. Submissions go through intake.
func NewJobsHandler(sched *dispatch.Scheduler, intake *ingress.Intake, voice VoiceStatus) *JobsHandler {
	return &JobsHandler{sched: sched, intake: intake, voice: voice}
}

// QueuedCollection summarizes a waiting collection.
type QueuedCollection struct {
	ID     string       `json:"id"`
	Source string       `json:"source,omitempty"`
	Kinds  []model.Kind `json:"kinds"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Running      bool               `json:"running"`
	Depth        int                `json:"depth"`
	VoicePending int                `json:"voice_pending"`
	VoiceBusy    bool               `json:"voice_busy"`
	Collections  []QueuedCollection `json:"collections"`
}

// HandleSubmit handles POST /api/jobs.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ingress.Ack{Status: "error", Error: "envelope too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ingress.Ack{Status: "error", Error: "failed to read body"})
		return
	}

	ack, err := h.intake.Submit("api", body)
	if err != nil {
		slog.Debug("API: rejected envelope", "error", err)
		writeJSON(w, http.StatusBadRequest, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// HandleQueue handles GET /api/queue.
func (h *JobsHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	snap := h.sched.Queue().Snapshot()
	resp := QueueResponse{
		Running:     h.sched.Running(),
		Depth:       len(snap),
		Collections: make([]QueuedCollection, 0, len(snap)),
	}
	if h.voice != nil {
		resp.VoicePending = h.voice.Pending()
		resp.VoiceBusy = h.voice.Busy()
	}
	for _, c := range snap {
		resp.Collections = append(resp.Collections, QueuedCollection{ID: c.ID, Source: c.Source, Kinds: c.Kinds()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleClear handles DELETE /api/queue.
func (h *JobsHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	n := h.sched.Queue().Clear()
	slog.Info("API: queue cleared", "dropped", n)
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}
