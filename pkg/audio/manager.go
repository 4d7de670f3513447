// Package audio plays sound files on the default output device.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"printcast/pkg/config"
)

const targetSampleRate = beep.SampleRate(48000)

// Player plays an audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Manager implements Player using gopxl/beep. Several files may play at
// once; the speaker mixes them.
type Manager struct {
	mu                 sync.Mutex
	volume             float64
	speakerInitialized bool
	active             map[*effects.Volume]context.CancelFunc
}

// New creates a Manager with the configured volume.
func New(cfg config.SoundConfig) *Manager {
	m := &Manager{active: make(map[*effects.Volume]context.CancelFunc)}
	m.volume = clampVolume(cfg.Volume)
	return m
}

// Play decodes the file and blocks until it has played out or ctx ends.
func (m *Manager) Play(ctx context.Context, path string) error {
	streamer, format, err := decode(path)
	if err != nil {
		return err
	}
	defer streamer.Close()

	if err := m.ensureSpeakerInitialized(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	vol := &effects.Volume{
		Streamer: beep.Resample(3, format.SampleRate, targetSampleRate, streamer),
		Base:     2,
		Volume:   volumeToPower(m.volume),
		Silent:   m.volume <= 0.01,
	}
	m.active[vol] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, vol)
		m.mu.Unlock()
	}()

	ctrl := &beep.Ctrl{Streamer: vol}
	done := make(chan struct{})
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		close(done)
	})))

	slog.Debug("Playing audio", "path", path, "duration", format.SampleRate.D(streamer.Len()))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

// Stop silences everything currently playing. Blocked Play calls return.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.active {
		cancel()
	}
}

// Active returns the number of files currently playing.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// SetVolume sets playback volume (0.0 to 1.0), including live streams.
func (m *Manager) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.volume = clampVolume(v)
	if len(m.active) == 0 {
		return
	}
	speaker.Lock()
	for s := range m.active {
		s.Volume = volumeToPower(m.volume)
		s.Silent = m.volume <= 0.01
	}
	speaker.Unlock()
}

// Volume returns the current volume level.
func (m *Manager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *Manager) ensureSpeakerInitialized() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speakerInitialized {
		return nil
	}
	if err := speaker.Init(targetSampleRate, targetSampleRate.N(time.Second/10)); err != nil {
		slog.Error("Failed to initialize speaker", "error", err)
		return fmt.Errorf("speaker init: %w", err)
	}
	m.speakerInitialized = true
	return nil
}

// Duration returns the playing time of an audio file.
func Duration(path string) (time.Duration, error) {
	streamer, format, err := decode(path)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}

// decode tries MP3 first, then WAV.
func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	streamer, format, err := mp3.Decode(f)
	if err == nil {
		return streamer, format, nil
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	streamer, format, err = wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}
	return streamer, format, nil
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// volumeToPower maps a linear 0-1 level to beep's base-2 exponent.
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10
	}
	return math.Log2(vol)
}
