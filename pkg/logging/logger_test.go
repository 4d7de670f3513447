package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"printcast/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")

	// Pre-existing log should be rotated to .old
	if err := os.WriteFile(serverLog, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prev := slog.Default()
	defer slog.SetDefault(prev)

	cfg := &config.LogConfig{
		Server: config.LogSettings{
			Path:  serverLog,
			Level: "DEBUG",
		},
	}

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if _, err := os.Stat(serverLog); os.IsNotExist(err) {
		t.Error("Server log file not created")
	}
	old, err := os.ReadFile(serverLog + ".old")
	if err != nil {
		t.Fatalf("expected rotated log: %v", err)
	}
	if string(old) != "previous run\n" {
		t.Errorf("unexpected rotated content %q", old)
	}

	slog.Info("hello capture", "k", "v")
	if !strings.Contains(GlobalLogCapture.GetLastLine(), "hello capture") {
		t.Errorf("capture did not see log line, got %q", GlobalLogCapture.GetLastLine())
	}
}

func TestSetupHandler_Levels(t *testing.T) {
	tests := []struct {
		level       string
		debugInFile bool
		infoConsole bool
	}{
		{"DEBUG", true, true},
		{"INFO", false, true},
		{"ERROR", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "x.log")
			var console bytes.Buffer

			h, f, err := setupHandler(path, tt.level, &console)
			if err != nil {
				t.Fatalf("setupHandler failed: %v", err)
			}
			defer f.Close()

			logger := slog.New(h)
			logger.Debug("debug-line")
			logger.Info("info-line")

			data, _ := os.ReadFile(path)
			if got := strings.Contains(string(data), "debug-line"); got != tt.debugInFile {
				t.Errorf("debug in file = %v, want %v", got, tt.debugInFile)
			}
			if strings.Contains(console.String(), "debug-line") {
				t.Error("console must never carry DEBUG lines")
			}
			if got := strings.Contains(console.String(), "info-line"); got != tt.infoConsole {
				t.Errorf("info on console = %v, want %v", got, tt.infoConsole)
			}
		})
	}
}

func TestLogCaptureWriter_Limit(t *testing.T) {
	w := NewLogCaptureWriter(2)
	_, _ = w.Write([]byte("a\n"))
	_, _ = w.Write([]byte("b\n"))
	_, _ = w.Write([]byte("c\n"))

	lines := w.Lines()
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Errorf("unexpected lines %v", lines)
	}
	if w.GetLastLine() != "c" {
		t.Errorf("expected last line c, got %q", w.GetLastLine())
	}
}
