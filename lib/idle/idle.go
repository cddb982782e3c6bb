// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package idle

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/webtrack/lib/clock"
)

// Deadline describes the budget of one idle slice.
type Deadline interface {
	// TimeRemaining returns the time left in the slice.
	TimeRemaining() time.Duration

	// DidTimeout reports whether the slice was granted because the
	// request timeout expired rather than because the host was idle.
	DidTimeout() bool
}

// Requester is the host's idle primitive. RequestIdle arranges for
// callback to run once the host is idle, or after timeout at the
// latest, and returns a function cancelling the request.
type Requester interface {
	RequestIdle(callback func(Deadline), timeout time.Duration) (cancel func())
}

// Task is one unit of deferrable work.
type Task struct {
	// ID identifies the task for RemoveTask. AddTask assigns a UUID
	// when empty.
	ID string

	// Priority orders tasks within a slice; lower runs first.
	Priority int

	// Execute does the work. The context is cancelled when the
	// scheduler is stopped.
	Execute func(ctx context.Context) error

	// Async tasks run on their own goroutine.
	Async bool
}

// Config tunes slice consumption.
type Config struct {
	MaxTasksPerIdle  int
	MinRemainingTime time.Duration

	// Timeout is passed to the Requester as the latest acceptable
	// slice start.
	Timeout time.Duration

	// FallbackDelay and FallbackBudget shape the timer-based slice
	// used when no Requester is available.
	FallbackDelay  time.Duration
	FallbackBudget time.Duration
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxTasksPerIdle:  5,
		MinRemainingTime: time.Millisecond,
		Timeout:          2 * time.Second,
		FallbackDelay:    time.Millisecond,
		FallbackBudget:   50 * time.Millisecond,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.MaxTasksPerIdle <= 0 {
		return fmt.Errorf("maxTasksPerIdle must be positive, got %d", c.MaxTasksPerIdle)
	}
	if c.MinRemainingTime < 0 || c.Timeout < 0 || c.FallbackDelay < 0 || c.FallbackBudget < 0 {
		return fmt.Errorf("idle durations must not be negative")
	}
	return nil
}

// Scheduler drives the task list. All methods are safe for concurrent
// use; tasks never run with the scheduler's lock held.
type Scheduler struct {
	config    Config
	requester Requester
	clock     clock.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tasks    []Task
	running  bool
	stopped  bool
	inSlice  bool
	cancelRq func()
	async    sync.WaitGroup
}

// New creates a scheduler. A nil requester selects the timer fallback.
func New(config Config, requester Requester, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:    config,
		requester: requester,
		clock:     clk,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddTask appends a task and requests a slice if none is pending. It
// returns the task's ID.
func (s *Scheduler) AddTask(task Task) string {
	return s.AddTasks([]Task{task})[0]
}

// AddTasks appends several tasks and returns their IDs in order.
func (s *Scheduler) AddTasks(tasks []Task) []string {
	ids := make([]string, len(tasks))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		ids[i] = task.ID
		s.tasks = append(s.tasks, task)
	}
	if s.stopped {
		return ids
	}
	if !s.running && !s.inSlice && len(s.tasks) > 0 {
		s.running = true
		s.requestLocked()
	}
	return ids
}

// RemoveTask drops a pending task. It reports whether the task was
// found.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := slices.IndexFunc(s.tasks, func(task Task) bool { return task.ID == id })
	if index < 0 {
		return false
	}
	s.tasks = slices.Delete(s.tasks, index, index+1)
	return true
}

// Clear drops every pending task.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Running reports whether a slice is requested or in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop cancels any pending slice request and prevents future ones. A
// slice already granted runs to completion. Pending tasks stay queued
// for Drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.running = false
	cancel := s.cancelRq
	s.cancelRq = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Start re-enables a stopped scheduler and requests a slice when
// tasks are pending.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	if !s.running && !s.inSlice && len(s.tasks) > 0 {
		s.running = true
		s.requestLocked()
	}
}

// Close stops the scheduler, cancels the task context, and waits for
// async tasks to return.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
	s.async.Wait()
}

// Drain executes every pending task now, in priority order, ignoring
// slice budgets. Async tasks run inline. It returns early with the
// context's error if ctx is cancelled between tasks.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	slices.SortStableFunc(tasks, byPriority)
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			s.mu.Lock()
			s.tasks = append(tasks[i:], s.tasks...)
			s.mu.Unlock()
			return fmt.Errorf("draining idle tasks: %w", err)
		}
		s.execute(ctx, task)
	}
	return nil
}

func byPriority(a, b Task) int { return cmp.Compare(a.Priority, b.Priority) }

// requestLocked asks for the next slice.
func (s *Scheduler) requestLocked() {
	if s.requester != nil {
		s.cancelRq = s.requester.RequestIdle(s.runSlice, s.config.Timeout)
		return
	}
	timer := s.clock.AfterFunc(s.config.FallbackDelay, func() {
		s.runSlice(&fallbackDeadline{
			clock:  s.clock,
			start:  s.clock.Now(),
			budget: s.config.FallbackBudget,
		})
	})
	s.cancelRq = func() { timer.Stop() }
}

// runSlice consumes one idle slice.
func (s *Scheduler) runSlice(deadline Deadline) {
	s.mu.Lock()
	if s.stopped || !s.running {
		s.mu.Unlock()
		return
	}
	s.cancelRq = nil
	s.inSlice = true
	s.mu.Unlock()

	executed := 0
	for executed < s.config.MaxTasksPerIdle {
		if deadline.TimeRemaining() <= s.config.MinRemainingTime && !deadline.DidTimeout() {
			break
		}
		task, ok := s.pop()
		if !ok {
			break
		}
		executed++
		if task.Async {
			s.async.Add(1)
			go func() {
				defer s.async.Done()
				s.execute(s.ctx, task)
			}()
			continue
		}
		s.execute(s.ctx, task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSlice = false
	if s.stopped {
		s.running = false
		return
	}
	if len(s.tasks) > 0 {
		s.requestLocked()
		return
	}
	s.running = false
}

// pop removes the highest-priority pending task. Sorting on every pop
// keeps tasks added during a slice in order.
func (s *Scheduler) pop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return Task{}, false
	}
	slices.SortStableFunc(s.tasks, byPriority)
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return task, true
}

func (s *Scheduler) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("idle task panicked",
				"task", task.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if task.Execute == nil {
		return
	}
	if err := task.Execute(ctx); err != nil {
		s.logger.Warn("idle task failed", "task", task.ID, "async", task.Async, "error", err)
	}
}

// fallbackDeadline is the synthetic deadline used without a Requester.
type fallbackDeadline struct {
	clock  clock.Clock
	start  time.Time
	budget time.Duration
}

func (d *fallbackDeadline) TimeRemaining() time.Duration {
	return max(d.budget-d.clock.Since(d.start), 0)
}

func (d *fallbackDeadline) DidTimeout() bool { return false }
