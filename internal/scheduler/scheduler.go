// Package scheduler serializes cache refreshes, assignment passes and list
// edits onto a single worker, coalescing bursts of change notifications.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Do once the scheduler has stopped.
var ErrStopped = errors.New("scheduler stopped")

// Kind identifies what a unit of work does.
type Kind int

const (
	KindRefresh Kind = iota
	KindAssign
	KindTask
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRefresh:
		return "refresh"
	case KindAssign:
		return "assign"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Handlers are run by the worker. Every refresh is followed by an
// assignment pass, even a failed one: the cache keeps its previous snapshot
// and assignment requests absorbed by the pending refresh still need a pass.
type Handlers struct {
	Refresh func(ctx context.Context) error
	Assign  func(ctx context.Context)
}

// Stats counts what the scheduler did with requests.
type Stats struct {
	Executed    uint64 // units run, of any kind
	Refreshes   uint64
	Assignments uint64
	Tasks       uint64
	Coalesced   uint64 // requests absorbed by a pending unit
	Superseded  uint64 // pending assignments cancelled by a refresh
}

type unit struct {
	kind      Kind
	fn        func(ctx context.Context) error
	cancelled bool
	done      chan error
}

// Scheduler runs units one at a time in request order. At most one refresh
// or assignment is pending (queued but not started) at any time:
//
//   - an assignment request while anything is pending is dropped;
//   - a refresh request while a refresh is pending is dropped;
//   - a refresh request while an assignment is pending cancels that
//     assignment, since the refresh will request its own.
//
// The lock only guards that decision and the queue; no work runs under it.
// Requests made before Start are queued and run once it is called.
type Scheduler struct {
	mu       sync.Mutex
	logger   *slog.Logger
	handlers Handlers

	queue   []*unit
	pending *unit
	stats   Stats

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	running bool
	stopped bool
}

// New creates a Scheduler.
func New(handlers Handlers, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		handlers: handlers,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RequestAssignDefaults asks for an assignment pass. It never blocks.
func (s *Scheduler) RequestAssignDefaults() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		s.stats.Coalesced++
		kind := s.pending.kind
		s.mu.Unlock()
		s.logger.Debug("assign request coalesced", "pending", kind)
		return
	}
	u := &unit{kind: KindAssign}
	s.pending = u
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	s.signal()
}

// RequestRefresh asks for a cache refresh followed by an assignment pass.
// It never blocks.
func (s *Scheduler) RequestRefresh() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		if s.pending.kind == KindRefresh {
			s.stats.Coalesced++
			s.mu.Unlock()
			s.logger.Debug("refresh request coalesced")
			return
		}
		s.pending.cancelled = true
		s.stats.Superseded++
		s.logger.Debug("pending assignment superseded by refresh")
	}
	u := &unit{kind: KindRefresh}
	s.pending = u
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	s.signal()
}

// Do runs fn on the worker, after everything already queued, and waits
// for it. Edits made through Do never interleave with an assignment pass.
func (s *Scheduler) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	u := &unit{kind: KindTask, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	s.signal()

	select {
	case err := <-u.done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		u.cancelled = true
		s.mu.Unlock()
		return ctx.Err()
	}
}

// WaitIdle blocks until the queue is empty, including any assignment a
// refresh queued on completion.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		var remaining int
		err := s.Do(ctx, func(context.Context) error {
			s.mu.Lock()
			remaining = len(s.queue)
			s.mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
	}
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending returns the kind of the pending refresh or assignment, if any.
func (s *Scheduler) Pending() (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0, false
	}
	return s.pending.kind, true
}

// Start launches the worker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go s.workLoop(ctx)

	s.logger.Debug("scheduler started")
	return nil
}

// Stop stops the worker after the unit in progress and fails queued tasks
// with ErrStopped. Cancelling the context passed to Start has the same
// effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	if wasRunning {
		<-s.doneCh
	}
	s.failQueued()
	s.logger.Debug("scheduler stopped")
}

// halt marks the scheduler stopped when the worker exits on its own.
func (s *Scheduler) halt() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.running = false
	s.mu.Unlock()

	s.failQueued()
	if !already {
		s.logger.Debug("scheduler stopped", "reason", "context done")
	}
}

func (s *Scheduler) failQueued() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.pending = nil
	s.mu.Unlock()

	for _, u := range queue {
		if u.done != nil {
			u.done <- ErrStopped
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) workLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer s.halt()

	for {
		for {
			u := s.next()
			if u == nil {
				break
			}
			s.execute(ctx, u)

			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
		}
	}
}

// next pops the front of the queue. A popped unit is no longer pending.
func (s *Scheduler) next() *unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	u := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if s.pending == u {
		s.pending = nil
	}
	return u
}

func (s *Scheduler) execute(ctx context.Context, u *unit) {
	s.mu.Lock()
	cancelled := u.cancelled
	if !cancelled {
		s.stats.Executed++
	}
	s.mu.Unlock()

	if cancelled {
		if u.done != nil {
			u.done <- context.Canceled
		}
		return
	}

	switch u.kind {
	case KindRefresh:
		s.count(func(st *Stats) { st.Refreshes++ })
		if s.handlers.Refresh != nil {
			if err := s.handlers.Refresh(ctx); err != nil {
				s.logger.Warn("endpoint refresh failed, assigning from previous snapshot", "error", err)
			}
		}
		s.RequestAssignDefaults()

	case KindAssign:
		s.count(func(st *Stats) { st.Assignments++ })
		if s.handlers.Assign != nil {
			s.handlers.Assign(ctx)
		}

	case KindTask:
		s.count(func(st *Stats) { st.Tasks++ })
		u.done <- u.fn(ctx)
	}
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
