package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"printcast/pkg/version"
)

// Handlers groups the optional endpoint handlers. Nil members are not routed.
type Handlers struct {
	Jobs          *JobsHandler
	History       *HistoryHandler
	Announcements *AnnouncementsHandler
	WebSocket     *WSHandler
	Metrics       http.Handler
}

// NewServer creates and configures the HTTP server.
// shutdown is called asynchronously after POST /api/shutdown has been answered.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/recent", handleRecentLog)

	if h.Jobs != nil {
		mux.HandleFunc("POST /api/jobs", h.Jobs.HandleSubmit)
		mux.HandleFunc("GET /api/queue", h.Jobs.HandleQueue)
		mux.HandleFunc("DELETE /api/queue", h.Jobs.HandleClear)
	}
	if h.History != nil {
		mux.HandleFunc("GET /api/history", h.History.HandleRecent)
	}
	if h.Announcements != nil {
		mux.HandleFunc("GET /api/announcements", h.Announcements.HandleList)
		mux.HandleFunc("POST /api/announcements/{name}", h.Announcements.HandleTrigger)
	}
	if h.WebSocket != nil {
		mux.Handle("GET /ws", h.WebSocket)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush first.
		go func() {
			time.Sleep(100 * time.Millisecond)
			if shutdown != nil {
				shutdown()
			}
		}()
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
