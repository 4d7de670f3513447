// Package announce enqueues configured collections on a cron schedule.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"printcast/pkg/config"
	"printcast/pkg/model"
)

// Enqueuer accepts collections.
type Enqueuer interface {
	Enqueue(c model.Collection, index int)
}

// Announcer owns a cron instance with one entry per announcement.
type Announcer struct {
	parser cron.Parser
	c      *cron.Cron
	queue  Enqueuer
	names  map[string]cron.EntryID
}

// New validates and registers the announcements. Nothing fires until Start.
func New(announcements []config.AnnouncementConfig, q Enqueuer) (*Announcer, error) {
	a := &Announcer{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		queue:  q,
		names:  make(map[string]cron.EntryID),
	}
	a.c = cron.New(cron.WithParser(a.parser))

	var errs []error
	for _, ann := range announcements {
		if err := a.add(ann); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Announcer) add(ann config.AnnouncementConfig) error {
	if ann.Name == "" {
		return errors.New("announcement without name")
	}
	if _, dup := a.names[ann.Name]; dup {
		return fmt.Errorf("announcement %s: duplicate name", ann.Name)
	}
	jobs := Jobs(ann)
	if len(jobs) == 0 {
		return fmt.Errorf("announcement %s: no text, voice or sound", ann.Name)
	}
	sched, err := a.parser.Parse(ann.Schedule)
	if err != nil {
		return fmt.Errorf("announcement %s: bad schedule %q: %w", ann.Name, ann.Schedule, err)
	}

	index := -1
	if ann.Front {
		index = 0
	}
	name := ann.Name
	id := a.c.Schedule(sched, cron.FuncJob(func() {
		a.fire(name, jobs, index)
	}))
	a.names[name] = id
	return nil
}

func (a *Announcer) fire(name string, jobs []model.Job, index int) {
	c := model.NewCollection(jobs...)
	c.Source = "announce"
	a.queue.Enqueue(c, index)
	slog.Debug("Announcement queued", "name", name, "collection", c.ID)
}

// Jobs builds the collection for an announcement: text, then voice, then sound.
func Jobs(ann config.AnnouncementConfig) []model.Job {
	var jobs []model.Job
	if ann.Text != "" {
		jobs = append(jobs, model.Text{Content: ann.Text, Bold: ann.Bold})
	}
	if strings.TrimSpace(ann.Voice) != "" {
		jobs = append(jobs, model.Voice{Content: ann.Voice})
	}
	if ann.Sound != "" {
		jobs = append(jobs, model.Sound{Path: ann.Sound})
	}
	return jobs
}

// ErrUnknown is returned by Trigger for names that are not registered.
var ErrUnknown = errors.New("unknown announcement")

// Trigger fires an announcement immediately.
func (a *Announcer) Trigger(name string) error {
	id, ok := a.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	a.c.Entry(id).WrappedJob.Run()
	return nil
}

// Names lists the registered announcements in name order.
func (a *Announcer) Names() []string {
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Start runs the cron scheduler in the background.
func (a *Announcer) Start() {
	if len(a.names) == 0 {
		return
	}
	a.c.Start()
	slog.Info("Announcements scheduled", "count", len(a.names))
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (a *Announcer) Stop(ctx context.Context) error {
	done := a.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
