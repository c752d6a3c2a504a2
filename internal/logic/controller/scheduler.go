package controller

import (
	"context"
	"time"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Task is one non-blocking unit of scheduler work.
type Task interface {
	Tick() stat.Status
}

// TaskFunc adapts a function to Task.
type TaskFunc func() stat.Status

func (f TaskFunc) Tick() stat.Status { return f() }

type namedTask struct {
	name string
	task Task
}

// idleSleep is how long Run yields after a pass that made no progress.
const idleSleep = time.Millisecond

// Scheduler runs an ordered task list. A task returning EAgain ends the
// pass; the next pass starts again from the first task.
type Scheduler struct {
	tasks  []namedTask
	exit   bool
	passes uint64
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add appends a task. Earlier tasks have higher priority.
func (s *Scheduler) Add(name string, t Task) {
	s.tasks = append(s.tasks, namedTask{name: name, task: t})
}

// Names returns the task names in priority order.
func (s *Scheduler) Names() []string {
	out := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.name
	}
	return out
}

// Exit makes Run return after the current pass.
func (s *Scheduler) Exit() { s.exit = true }

// Exiting reports whether an exit was requested.
func (s *Scheduler) Exiting() bool { return s.exit }

// Passes returns the number of passes run so far.
func (s *Scheduler) Passes() uint64 { return s.passes }

// Pass runs the task list once. It returns OK if any task made progress,
// EAgain if a task ended the pass early, and Noop otherwise.
func (s *Scheduler) Pass() stat.Status {
	s.passes++
	result := stat.Noop
	for _, t := range s.tasks {
		st := t.task.Tick()
		switch st {
		case stat.EAgain:
			if debug.IsEnabled(debug.LevelTrace) {
				debug.Trace("pass %d: %s returned EAGAIN", s.passes, t.name)
			}
			return stat.EAgain
		case stat.OK, stat.Error:
			result = stat.OK
		}
	}
	return result
}

// Run loops over passes until Exit is called or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for !s.exit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.Pass() != stat.OK {
			time.Sleep(idleSleep)
		}
	}
	return nil
}
