package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MinAudioSize is the minimum size of a synthesized audio file.
// Anything smaller is treated as a failed synthesis.
const MinAudioSize = 1024

// Speaker turns text into audible speech. Speak blocks until the utterance
// has finished playing or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Synthesizer renders text into an audio file.
// Returns the audio format ("mp3", "wav").
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, outputPath string) (string, error)
	Voices(ctx context.Context) ([]Voice, error)
}

// Player plays an audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string
	Name     string
	Language string
	IsNeural bool
}

// LogSpeaker writes utterances to the log instead of a sound device.
type LogSpeaker struct{}

// Speak logs the text.
func (LogSpeaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Voice", "text", text)
	Log("LOG", text, 200, nil)
	return nil
}

// FileSpeaker synthesizes into a scratch file and plays it back.
type FileSpeaker struct {
	synth   Synthesizer
	player  Player
	voice   string
	tempDir string
}

// NewFileSpeaker creates a speaker from a synthesizer and a player.
func NewFileSpeaker(synth Synthesizer, player Player, voice, tempDir string) *FileSpeaker {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &FileSpeaker{synth: synth, player: player, voice: voice, tempDir: tempDir}
}

// Speak synthesizes text and blocks until playback completes.
func (s *FileSpeaker) Speak(ctx context.Context, text string) error {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create tts temp dir: %w", err)
	}
	base := filepath.Join(s.tempDir, "utt_"+uuid.New().String())

	format, err := s.synth.Synthesize(ctx, text, s.voice, base)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	path := base + "." + format
	defer os.Remove(path)

	if err := VerifyAudioFile(path); err != nil {
		return err
	}
	return s.player.Play(ctx, path)
}

// VerifyAudioFile checks that a synthesized file exists and is not truncated.
func VerifyAudioFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file missing: %w", err)
	}
	if info.Size() < MinAudioSize {
		return fmt.Errorf("audio file too small (%d bytes): %s", info.Size(), path)
	}
	return nil
}
