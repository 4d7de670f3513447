package ingress

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"printcast/pkg/model"
)

// ErrSoundOutsideRoot is returned for sound paths that leave the sound root.
var ErrSoundOutsideRoot = errors.New("sound path outside sound root")

// Intake decodes envelopes from network producers and enqueues them.
// Sound paths are confined to soundRoot; with no root every sound job is refused.
type Intake struct {
	queue     Enqueuer
	soundRoot string
}

// NewIntake creates an Intake. soundRoot is made absolute.
func NewIntake(q Enqueuer, soundRoot string) *Intake {
	in := &Intake{queue: q}
	if soundRoot != "" {
		abs, err := filepath.Abs(soundRoot)
		if err != nil {
			slog.Warn("Ingress: invalid sound root, sound jobs disabled", "root", soundRoot, "error", err)
			return in
		}
		in.soundRoot = abs
	}
	return in
}

// Submit decodes data and enqueues it as one collection tagged with source.
func (in *Intake) Submit(source string, data []byte) (Ack, error) {
	req, err := Decode(data)
	if err == nil {
		err = in.confine(req.Jobs)
	}
	if err != nil {
		return Ack{Status: "error", Error: err.Error()}, err
	}
	c := model.NewCollection(req.Jobs...)
	c.Source = source
	in.queue.Enqueue(c, req.Index)
	return Ack{Status: "queued", ID: c.ID, Jobs: len(req.Jobs)}, nil
}

// confine rewrites sound paths to absolute paths inside the root.
func (in *Intake) confine(jobs []model.Job) error {
	for i, job := range jobs {
		s, ok := job.(model.Sound)
		if !ok {
			continue
		}
		path, err := in.ResolveSound(s.Path)
		if err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		jobs[i] = model.Sound{Path: path}
	}
	return nil
}

// ResolveSound maps a producer path to a file under the sound root.
// Relative paths are taken relative to the root.
func (in *Intake) ResolveSound(path string) (string, error) {
	if in.soundRoot == "" {
		return "", errors.New("sound jobs disabled: no sound root configured")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(in.soundRoot, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(in.soundRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrSoundOutsideRoot, path)
	}
	if rel == "." {
		return "", fmt.Errorf("%w: %s is the root itself", ErrSoundOutsideRoot, path)
	}
	return path, nil
}
