// Package scheduler runs registered background tasks no earlier than the
// time they were requested for, each bounded by an execution budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// idleWait bounds how long the loop sleeps when nothing is pending.
const idleWait = time.Hour

var ErrUnknownTask = errors.New("task not registered")

// Request asks for task ID to run at or after EarliestBegin.
type Request struct {
	ID            string
	EarliestBegin time.Time
}

// Task is handed to a handler for one execution.
type Task struct {
	ID       string
	Deadline time.Time

	once    sync.Once
	success bool
	done    bool
	logger  *slog.Logger
}

// Complete reports the outcome. Only the first call counts.
func (t *Task) Complete(success bool) {
	t.once.Do(func() {
		t.success = success
		t.done = true
		t.logger.Info("background task completed", "task", t.ID, "success", success)
	})
}

// Handler executes a task. ctx expires at task.Deadline.
type Handler func(ctx context.Context, task *Task)

// Scheduler holds at most one pending request per task ID.
type Scheduler struct {
	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]Request
	budget   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a scheduler giving each execution the given budget.
func New(budget time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		handlers: make(map[string]Handler),
		pending:  make(map[string]Request),
		budget:   budget,
		logger:   logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a task ID.
func (s *Scheduler) Register(id string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; ok {
		return fmt.Errorf("task %s already registered", id)
	}
	s.handlers[id] = h
	return nil
}

// Submit queues req, replacing any pending request with the same ID.
func (s *Scheduler) Submit(req Request) error {
	s.mu.Lock()
	if _, ok := s.handlers[req.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("submitting %s: %w", req.ID, ErrUnknownTask)
	}
	s.pending[req.ID] = req
	s.mu.Unlock()

	s.logger.Debug("background task scheduled", "task", req.ID, "earliest_begin", req.EarliestBegin)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the queued request for id.
func (s *Scheduler) Pending(id string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	return req, ok
}

// Cancel drops the queued request for id.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// RunDue executes every request whose EarliestBegin has passed, one at a
// time, and returns how many ran. A request is dequeued before its handler
// runs, so handlers may resubmit.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []Request
	for id, req := range s.pending {
		if !req.EarliestBegin.After(now) {
			due = append(due, req)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, req := range due {
		s.execute(ctx, req)
	}
	return len(due)
}

func (s *Scheduler) execute(ctx context.Context, req Request) {
	s.mu.Lock()
	h := s.handlers[req.ID]
	s.mu.Unlock()

	deadline := s.now().Add(s.budget)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	task := &Task{ID: req.ID, Deadline: deadline, logger: s.logger}
	s.logger.Info("background task started", "task", req.ID, "budget", s.budget)
	h(runCtx, task)
	if !task.done {
		s.logger.Warn("background task returned without completing", "task", req.ID)
		task.Complete(false)
	}
}

// Start runs the dispatch loop until ctx ends or Stop is called. Calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	stop, stopped := s.stop, s.stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		for {
			timer := time.NewTimer(s.nextWait())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			case <-s.wake:
				timer.Stop()
			case <-timer.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for a running handler to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := idleWait
	now := s.now()
	for _, req := range s.pending {
		d := req.EarliestBegin.Sub(now)
		if d < 0 {
			d = 0
		}
		if d < wait {
			wait = d
		}
	}
	return wait
}
