package model

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a job variant.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
	KindSound Kind = "sound"
)

// Job is a single unit of output work. The set of variants is closed:
// Text, Image, Voice and Sound are the only implementations.
type Job interface {
	Kind() Kind
	job()
}

// Text is printed line by line. Line breaks in Content are significant.
type Text struct {
	Content string
	Bold    bool
}

// Image is printed as a bitmap. The job owns Bitmap once enqueued.
type Image struct {
	Bitmap image.Image
	// Padding emits an extra blank line before and after the image.
	Padding bool
}

// Voice is an utterance for the speech engine.
type Voice struct {
	Content string
}

// Sound references an audio file on disk. The file is not owned by the job.
type Sound struct {
	Path string
}

func (Text) Kind() Kind  { return KindText }
func (Image) Kind() Kind { return KindImage }
func (Voice) Kind() Kind { return KindVoice }
func (Sound) Kind() Kind { return KindSound }

func (Text) job()  {}
func (Image) job() {}
func (Voice) job() {}
func (Sound) job() {}

// Collection is an ordered batch of jobs dispatched as a unit.
type Collection struct {
	ID   string
	Jobs []Job
	// Source names the producer (api, websocket, nats, announce).
	Source string
}

// NewCollection creates a collection with a fresh ID.
func NewCollection(jobs ...Job) Collection {
	return Collection{
		ID:   uuid.New().String(),
		Jobs: jobs,
	}
}

// Kinds returns the kinds of the contained jobs, in order. Nil jobs are reported as "".
func (c Collection) Kinds() []Kind {
	kinds := make([]Kind, len(c.Jobs))
	for i, j := range c.Jobs {
		if j != nil {
			kinds[i] = j.Kind()
		}
	}
	return kinds
}

// KindOf returns the kind of j, or "unknown" for a nil job.
func KindOf(j Job) Kind {
	if j == nil {
		return "unknown"
	}
	return j.Kind()
}

// DispatchRecord is the outcome of dispatching one job of a collection.
type DispatchRecord struct {
	CollectionID string
	Position     int
	Kind         Kind
	Err          error
	ErrorKind    string
	At           time.Time
}

// OK reports whether the job was dispatched without error.
func (r DispatchRecord) OK() bool {
	return r.Err == nil
}
