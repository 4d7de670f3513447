package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"printcast/internal/api"
	"printcast/pkg/announce"
	"printcast/pkg/audio"
	"printcast/pkg/config"
	"printcast/pkg/db"
	"printcast/pkg/dispatch"
	"printcast/pkg/history"
	"printcast/pkg/ingress"
	"printcast/pkg/logging"
	"printcast/pkg/metrics"
	"printcast/pkg/model"
	"printcast/pkg/printer"
	"printcast/pkg/probe"
	"printcast/pkg/router"
	"printcast/pkg/tts"
	"printcast/pkg/tts/command"
	"printcast/pkg/tts/edgetts"
	"printcast/pkg/tts/sapi"
	"printcast/pkg/version"
	"printcast/pkg/voice"
)

var (
	configPath = flag.String("config", "configs/printcast.yaml", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	listVoices = flag.Bool("voices", false, "List the voices of the configured engine and exit")
)

func main() {
	flag.Parse()

	// .env is optional; it carries EDGE_TTS_* and PRINTCAST_NATS_* secrets.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if *listVoices {
		if err := printVoices(context.Background(), *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list voices: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	tts.SetLogPath(appCfg.History.TTS.Path)
	tts.SetEnabled(appCfg.History.TTS.Enabled)

	slog.Info("printcast started", "version", version.Version)

	backend, err := printer.Open(appCfg.Printer, nil)
	if err != nil {
		return err
	}
	defer backend.Close()

	audioMgr := audio.New(appCfg.Sound)
	speaker, err := newSpeaker(appCfg.Voice, audioMgr)
	if err != nil {
		return fmt.Errorf("failed to initialize voice engine: %w", err)
	}

	voiceWorker := voice.New(speaker, time.Duration(appCfg.Ticker.Voice))

	var player audio.Player
	if appCfg.Sound.Enabled {
		player = audioMgr
	}
	rt := router.New(backend, printer.FormattingFromConfig(appCfg.Printer.Formatting), voiceWorker, player)

	app := &services{}
	defer app.close()

	opts := []dispatch.Option{dispatch.WithInterval(time.Duration(appCfg.Ticker.Dispatch))}
	queue := dispatch.NewQueue()

	if appCfg.History.Dispatch.Enabled {
		journal, err := openJournal(appCfg.History.Dispatch.Path)
		if err != nil {
			return err
		}
		app.journal = journal
		opts = append(opts, dispatch.WithObserver(journal))
		go journal.RunPruner(ctx, time.Duration(appCfg.History.Dispatch.Retain), time.Hour)
	}

	if appCfg.Metrics.Enabled {
		telemetry, err := metrics.Setup(ctx, appCfg.Metrics.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		app.telemetry = telemetry
		recorder, err := metrics.NewRecorder(telemetry.Meter(), metrics.Gauges{
			QueueDepth:     queue.Len,
			VoicePending:   voiceWorker.Pending,
			ActivePlayback: rt.ActivePlayback,
		})
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		opts = append(opts, dispatch.WithObserver(recorder))
		voiceWorker.OnDone = recorder.Spoken
	}

	// Built against the queue so the websocket handler can be registered as an observer first.
	intake := ingress.NewIntake(queueEnqueuer{queue}, appCfg.Sound.Root)

	var wsHandler *api.WSHandler
	if appCfg.Ingress.WebSocket.Enabled {
		wsHandler = api.NewWSHandler(intake, appCfg.Ingress.WebSocket)
		opts = append(opts, dispatch.WithObserver(wsHandler))
	}

	sched := dispatch.New(queue, rt, voiceWorker, opts...)
	app.sched = sched
	app.router = rt
	app.audio = audioMgr

	announcer, err := announce.New(appCfg.Announcements, sched)
	if err != nil {
		return fmt.Errorf("invalid announcements: %w", err)
	}
	app.announcer = announcer

	if appCfg.Ingress.NATS.Enabled {
		sub, err := ingress.ConnectNATS(ctx, appCfg.Ingress.NATS, intake)
		if err != nil {
			// Producers on HTTP still work without the bus.
			slog.Error("NATS ingress unavailable", "url", appCfg.Ingress.NATS.URL, "error", err)
		} else {
			app.nats = sub
		}
	}

	if err := probe.Summarize(probe.Run(ctx, startupProbes(appCfg, app))); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	sched.Start(ctx)
	announcer.Start()

	handlers := api.Handlers{
		Jobs:          api.NewJobsHandler(sched, intake, voiceWorker),
		Announcements: api.NewAnnouncementsHandler(announcer),
		WebSocket:     wsHandler,
	}
	if app.journal != nil {
		handlers.History = api.NewHistoryHandler(app.journal)
	}
	if app.telemetry != nil {
		handlers.Metrics = app.telemetry.Handler
	}

	return runServer(ctx, appCfg.Server.Address, handlers)
}

// services holds what must be torn down, in reverse order of startup.
type services struct {
	journal   *history.Journal
	telemetry *metrics.Telemetry
	sched     *dispatch.Scheduler
	router    *router.Router
	audio     *audio.Manager
	announcer *announce.Announcer
	nats      *ingress.NATSSubscriber
}

func (s *services) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.announcer != nil {
		if err := s.announcer.Stop(shutdownCtx); err != nil {
			slog.Warn("Announcements did not stop in time", "error", err)
		}
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if s.sched != nil {
		// Discards undispatched collections and pending speech.
		s.sched.Stop()
	}
	if s.audio != nil {
		s.audio.Stop()
	}
	if s.router != nil {
		s.router.Wait()
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics shutdown failed", "error", err)
		}
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

func startupProbes(cfg *config.Config, app *services) []probe.Probe {
	var probes []probe.Probe
	if app.journal != nil {
		probes = append(probes, probe.Probe{
			Name:     "History database",
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := app.journal.Counts(ctx)
				return err
			},
		})
	}
	if cfg.Ingress.NATS.Enabled {
		probes = append(probes, probe.Probe{
			Name: "NATS ingress",
			Check: func(context.Context) error {
				if app.nats == nil || !app.nats.Healthy() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}
	return probes
}

// queueEnqueuer adapts the raw queue to the ingress Enqueuer.
type queueEnqueuer struct {
	q *dispatch.Queue
}

func (e queueEnqueuer) Enqueue(c model.Collection, index int) {
	e.q.Insert(c, index)
}

func openJournal(path string) (*history.Journal, error) {
	d, err := db.Init(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	return history.New(d), nil
}

func newSpeaker(cfg config.VoiceConfig, player tts.Player) (tts.Speaker, error) {
	switch cfg.Engine {
	case "", "log":
		return tts.LogSpeaker{}, nil
	case "windows-sapi":
		return sapi.NewSpeaker(cfg.VoiceID), nil
	case "edge-tts":
		endpoint, err := edgetts.EndpointFromEnv()
		if err != nil {
			return nil, err
		}
		voiceID := cfg.VoiceID
		if voiceID == "" {
			voiceID = edgetts.DefaultVoice
		}
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create tts temp dir: %w", err)
		}
		return tts.NewFileSpeaker(edgetts.New(endpoint), player, voiceID, cfg.TempDir), nil
	case "command":
		return command.New(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown voice engine %q", cfg.Engine)
	}
}

type voiceLister interface {
	Voices(ctx context.Context) ([]tts.Voice, error)
}

func printVoices(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var lister voiceLister
	switch cfg.Voice.Engine {
	case "windows-sapi":
		lister = sapi.NewSpeaker("")
	case "edge-tts":
		endpoint, err := edgetts.EndpointFromEnv()
		if err != nil {
			return err
		}
		lister = edgetts.New(endpoint)
	default:
		return fmt.Errorf("engine %q has no voice list", cfg.Voice.Engine)
	}

	voices, err := lister.Voices(ctx)
	if err != nil {
		return err
	}
	for _, v := range voices {
		fmt.Printf("%-45s %-8s %s\n", v.ID, v.Language, v.Name)
	}
	return nil
}

func runServer(ctx context.Context, addr string, h api.Handlers) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	srv := api.NewServer(addr, h, shutdownSignal(quit))
	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

// shutdownSignal returns a func that requests shutdown once; repeated calls
// while a request is already pending are dropped.
func shutdownSignal(quit chan<- os.Signal) func() {
	return func() {
		select {
		case quit <- syscall.SIGTERM:
		default:
		}
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		slog.Debug("Request processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
