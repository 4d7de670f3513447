package dispatch

import (
	"image"
	"strings"

	"printcast/pkg/model"
)

// QueueJobs enqueues jobs as one collection and returns its ID.
func (s *Scheduler) QueueJobs(index int, jobs ...model.Job) string {
	c := model.NewCollection(jobs...)
	s.Enqueue(c, index)
	return c.ID
}

// Text enqueues one text job per line of content.
func (s *Scheduler) Text(content string, bold bool, index int) string {
	lines := strings.Split(content, "\n")
	jobs := make([]model.Job, 0, len(lines))
	for _, line := range lines {
		jobs = append(jobs, model.Text{Content: line, Bold: bold})
	}
	return s.QueueJobs(index, jobs...)
}

// Image enqueues an image without padding.
func (s *Scheduler) Image(bitmap image.Image, index int) string {
	return s.QueueJobs(index, model.Image{Bitmap: bitmap})
}

// ImagePadded enqueues an image with a blank line before and after.
func (s *Scheduler) ImagePadded(bitmap image.Image, index int) string {
	return s.QueueJobs(index, model.Image{Bitmap: bitmap, Padding: true})
}

// Voice enqueues an utterance.
func (s *Scheduler) Voice(text string, index int) string {
	return s.QueueJobs(index, model.Voice{Content: text})
}

// Sound enqueues a sound file.
func (s *Scheduler) Sound(path string, index int) string {
	return s.QueueJobs(index, model.Sound{Path: path})
}
