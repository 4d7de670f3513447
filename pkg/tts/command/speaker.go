// Package command speaks by running an external text-to-speech program
// such as espeak-ng or say.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"printcast/pkg/tts"
)

// Placeholder is replaced by the utterance in the argument list.
// Without it, the text is appended as the last argument.
const Placeholder = "{text}"

// Speaker runs a command per utterance and waits for it to exit.
type Speaker struct {
	args []string
	mu   sync.Mutex
}

// New parses the command line.
func New(command string) (*Speaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &Speaker{args: args}, nil
}

// Args returns the argv for an utterance.
func (s *Speaker) Args(text string) []string {
	out := make([]string, 0, len(s.args)+1)
	substituted := false
	for _, a := range s.args {
		if strings.Contains(a, Placeholder) {
			a = strings.ReplaceAll(a, Placeholder, text)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, text)
	}
	return out
}

// Speak runs the command and blocks until it exits.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	argv := s.Args(text)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		tts.Log("COMMAND", text, 0, err)
		return fmt.Errorf("tts command %s failed: %w", argv[0], err)
	}
	tts.Log("COMMAND", text, 200, nil)
	return nil
}
