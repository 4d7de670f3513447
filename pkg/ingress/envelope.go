// Package ingress decodes job envelopes from external producers and
// places them on the dispatch queue.
package ingress

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register decoder
	_ "image/jpeg" // Register decoder
	_ "image/png"  // Register decoder

	_ "golang.org/x/image/bmp"  // Register decoder
	_ "golang.org/x/image/webp" // Register decoder

	"printcast/pkg/model"
)

// Envelope is the wire form of a collection.
//
//	{"index": -1, "jobs": [{"type": "text", "content": "hello", "bold": true}]}
type Envelope struct {
	Index *int      `json:"index,omitempty"`
	Jobs  []JobSpec `json:"jobs"`
}

// JobSpec is the wire form of one job. Fields apply per type.
type JobSpec struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"` // text, voice
	Bold    bool   `json:"bold,omitempty"`    // text
	Data    string `json:"data,omitempty"`    // image, base64
	Padding bool   `json:"padding,omitempty"` // image
	Path    string `json:"path,omitempty"`    // sound
}

// Request is a decoded envelope.
type Request struct {
	Index int
	Jobs  []model.Job
}

// Enqueuer accepts collections.
type Enqueuer interface {
	Enqueue(c model.Collection, index int)
}

// Ack is the reply sent to producers.
type Ack struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Jobs   int    `json:"jobs,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrEmpty is returned for envelopes without jobs.
var ErrEmpty = errors.New("envelope has no jobs")

// Decode parses and validates an envelope. A missing index appends.
func Decode(data []byte) (Request, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Request{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(env.Jobs) == 0 {
		return Request{}, ErrEmpty
	}

	req := Request{Index: -1, Jobs: make([]model.Job, 0, len(env.Jobs))}
	if env.Index != nil {
		req.Index = *env.Index
	}
	for i, spec := range env.Jobs {
		job, err := spec.Job()
		if err != nil {
			return Request{}, fmt.Errorf("job %d: %w", i, err)
		}
		req.Jobs = append(req.Jobs, job)
	}
	return req, nil
}

// Job converts the spec into a model job.
func (s JobSpec) Job() (model.Job, error) {
	switch model.Kind(s.Type) {
	case model.KindText:
		return model.Text{Content: s.Content, Bold: s.Bold}, nil
	case model.KindVoice:
		return model.Voice{Content: s.Content}, nil
	case model.KindSound:
		if s.Path == "" {
			return nil, errors.New("sound job requires path")
		}
		return model.Sound{Path: s.Path}, nil
	case model.KindImage:
		img, err := decodeImage(s.Data)
		if err != nil {
			return nil, err
		}
		return model.Image{Bitmap: img, Padding: s.Padding}, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", s.Type)
	}
}

func decodeImage(data string) (image.Image, error) {
	if data == "" {
		return nil, errors.New("image job requires data")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("image data is not base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
