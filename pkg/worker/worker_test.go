package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_AtMostOne(t *testing.T) {
	var s Slot
	release := make(chan struct{})
	started := make(chan struct{})

	first, ok := s.TryStart(context.Background(), "first", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.True(t, ok)
	<-started

	assert.True(t, s.Busy())
	assert.Equal(t, StateRunning, first.State())

	second, ok := s.TryStart(context.Background(), "second", func(ctx context.Context) error { return nil })
	assert.False(t, ok)
	assert.Nil(t, second)
	assert.Same(t, first, s.Current())

	close(release)
	require.NoError(t, first.Wait(context.Background()))
	assert.Equal(t, StateFinished, first.State())
	assert.False(t, s.Busy(), "slot must be released once the task is done")

	third, ok := s.TryStart(context.Background(), "third", func(ctx context.Context) error { return nil })
	require.True(t, ok)
	require.NoError(t, third.Wait(context.Background()))
}

func TestSlot_ConcurrentClaims(t *testing.T) {
	var s Slot
	var running, maxRunning atomic.Int32
	block := make(chan struct{})

	var tasks []*Task
	for i := 0; i < 50; i++ {
		if task, ok := s.TryStart(context.Background(), "t", func(ctx context.Context) error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			<-block
			running.Add(-1)
			return nil
		}); ok {
			tasks = append(tasks, task)
		}
	}
	close(block)
	for _, task := range tasks {
		<-task.Done()
	}

	assert.Len(t, tasks, 1)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestTask_Failure(t *testing.T) {
	var s Slot
	boom := errors.New("boom")

	task, ok := s.TryStart(context.Background(), "fail", func(ctx context.Context) error { return boom })
	require.True(t, ok)
	<-task.Done()

	assert.Equal(t, StateFailed, task.State())
	assert.ErrorIs(t, task.Err(), boom)
	assert.False(t, s.Busy())
}

func TestTask_Panic(t *testing.T) {
	var g Group
	task := g.Go(context.Background(), "panicky", func(ctx context.Context) error {
		panic("kaboom")
	})
	g.Wait()

	assert.Equal(t, StateFailed, task.State())
	require.Error(t, task.Err())
	assert.Contains(t, task.Err().Error(), "kaboom")
}

func TestTask_WaitContext(t *testing.T) {
	var g Group
	release := make(chan struct{})
	task := g.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.DeadlineExceeded)

	close(release)
	g.Wait()
	assert.Equal(t, StateFinished, task.State())
}

func TestGroup_TracksActive(t *testing.T) {
	var g Group
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		g.Go(context.Background(), "sound", func(ctx context.Context) error {
			<-release
			return nil
		})
	}
	assert.Equal(t, 3, g.Active())

	close(release)
	g.Wait()
	assert.Equal(t, 0, g.Active())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "finished", StateFinished.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
