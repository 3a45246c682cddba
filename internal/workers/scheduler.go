// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
)

// Scheduler dispatches named timed tasks.
//
// Registering a task under a name that is already scheduled replaces it; a
// replaced or cancelled task never fires again, even if its timer was
// already due. Runs of one task never overlap: a periodic task is re-armed
// only after its previous run returns. Panics in tasks are recovered and
// logged.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

type task struct {
	name     string
	fn       TaskFunc
	interval time.Duration // zero for one-shot tasks
	timer    *time.Timer
	seq      uint64
	running  bool
}

// NewScheduler returns a running scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("scheduler"),
	}
}

// Every runs fn every interval, first after one interval has elapsed.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) {
	if interval <= 0 {
		return
	}
	s.schedule(name, interval, interval, fn)
}

// After runs fn once after delay. Calling After again with the same name
// before it fires pushes the run back, which makes it a debouncer.
func (s *Scheduler) After(name string, delay time.Duration, fn TaskFunc) {
	s.schedule(name, 0, max(delay, 0), fn)
}

// Reset changes the interval of a periodic task and restarts its timer.
// A running task keeps running and is re-armed with the new interval when
// it returns. Reset reports whether the task exists.
func (s *Scheduler) Reset(name string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok || s.stopped || t.interval == 0 || interval <= 0 {
		return false
	}

	t.interval = interval
	if !t.running {
		s.arm(t, interval)
	}
	return true
}

// Cancel removes a task. A run already in progress is not interrupted.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		s.disarm(t)
		delete(s.tasks, name)
	}
}

// CancelPrefix removes every task whose name starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, t := range s.tasks {
		if strings.HasPrefix(name, prefix) {
			s.disarm(t)
			delete(s.tasks, name)
		}
	}
}

// Scheduled reports whether a task with name is registered.
func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Names returns the registered task names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stop cancels every timer, cancels the context of in-flight runs and
// waits for them to return. Nothing fires after Stop returns. Further
// registrations are ignored. Stop must not be called from inside a task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	for name, t := range s.tasks {
		s.disarm(t)
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) schedule(name string, interval, delay time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.tasks[name]; ok {
		s.disarm(old)
	}

	t := &task{name: name, fn: fn, interval: interval}
	s.tasks[name] = t
	s.arm(t, delay)
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(t *task, delay time.Duration) {
	s.disarm(t)
	seq := t.seq
	t.timer = time.AfterFunc(delay, func() { s.fire(t, seq) })
}

// disarm must be called with s.mu held. It invalidates any pending fire.
func (s *Scheduler) disarm(t *task) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

func (s *Scheduler) fire(t *task, seq uint64) {
	s.mu.Lock()
	if s.stopped || s.tasks[t.name] != t || t.seq != seq {
		s.mu.Unlock()
		return
	}
	t.running = true
	t.timer = nil
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	defer s.wg.Done()
	s.run(ctx, t)

	s.mu.Lock()
	defer s.mu.Unlock()
	t.running = false
	if s.stopped || s.tasks[t.name] != t {
		return
	}
	if t.interval > 0 {
		s.arm(t, t.interval)
		return
	}
	delete(s.tasks, t.name)
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", t.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("scheduled task panicked")
		}
	}()
	t.fn(ctx)
}
