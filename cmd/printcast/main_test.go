package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcast/pkg/config"
	"printcast/pkg/tts"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "printcast.yaml")
	tempConfig := `
server:
    address: localhost:0  # 0 lets OS choose free port
ticker:
    dispatch: 50ms
    voice: 20ms
printer:
    backend: console
voice:
    engine: log
log:
    server:
        path: "` + filepath.ToSlash(filepath.Join(dir, "logs", "server.log")) + `"
        level: "debug"
history:
    dispatch:
        enabled: true
        path: "` + filepath.ToSlash(filepath.Join(dir, "history.db")) + `"
        retain: 1d
ingress:
    nats:
        enabled: false
    websocket:
        enabled: true
metrics:
    enabled: true
    service_name: printcast-test
announcements:
    - name: hourly
      schedule: "@every 1h"
      text: "top of the hour"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(tempConfig), 0o644))

	// Cancel quickly to verify the startup and shutdown sequence.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, run(ctx, cfgPath))
	assert.FileExists(t, filepath.Join(dir, "history.db"))
}

func TestRun_BadBackend(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "printcast.yaml")
	tempConfig := `
printer:
    backend: network
log:
    server:
        path: "` + filepath.ToSlash(filepath.Join(dir, "server.log")) + `"
history:
    dispatch:
        enabled: false
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(tempConfig), 0o644))

	err := run(context.Background(), cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "printer.network.host")
}

func TestShutdownSignal(t *testing.T) {
	quit := make(chan os.Signal, 1)
	shutdown := shutdownSignal(quit)

	done := make(chan struct{})
	go func() {
		shutdown()
		shutdown()
		shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("repeated shutdown requests blocked")
	}

	assert.Equal(t, syscall.SIGTERM, <-quit)
	assert.Empty(t, quit)
}

func TestNewSpeaker(t *testing.T) {
	for _, name := range []string{"EDGE_TTS_BASE_URL", "EDGE_TTS_ORIGIN", "EDGE_TTS_USER_AGENT", "EDGE_TTS_TRUSTED_CLIENT_TOKEN", "EDGE_TTS_SEC_MS_GEC_VERSION"} {
		t.Setenv(name, "")
	}

	tests := []struct {
		name    string
		cfg     config.VoiceConfig
		wantErr bool
	}{
		{"DefaultIsLog", config.VoiceConfig{}, false},
		{"Log", config.VoiceConfig{Engine: "log"}, false},
		{"Command", config.VoiceConfig{Engine: "command", Command: "espeak-ng {text}"}, false},
		{"CommandMissing", config.VoiceConfig{Engine: "command"}, true},
		{"EdgeWithoutEnv", config.VoiceConfig{Engine: "edge-tts", TempDir: t.TempDir()}, true},
		{"Unknown", config.VoiceConfig{Engine: "polly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newSpeaker(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}

	s, err := newSpeaker(config.VoiceConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, tts.LogSpeaker{}, s)
}
