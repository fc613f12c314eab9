package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/endpoint"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/scheduler"
	"github.com/jmylchreest/audioprio/internal/store"
	"github.com/jmylchreest/audioprio/internal/system"
)

// EventType identifies what an engine event reports.
type EventType int

const (
	// EventCacheRefreshed follows every successful endpoint refresh.
	EventCacheRefreshed EventType = iota
	// EventDefaultsAssigned follows every assignment pass.
	EventDefaultsAssigned
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	if t == EventDefaultsAssigned {
		return "defaults-assigned"
	}
	return "cache-refreshed"
}

// Event is delivered to subscribers after the worker finishes a unit.
type Event struct {
	Type      EventType
	Endpoints int                // EventCacheRefreshed
	Pass      *assign.PassResult // EventDefaultsAssigned
}

// Options configure an Engine.
type Options struct {
	// Backend names the audio system in the status file.
	Backend string
	// ApplyOnStart runs an assignment pass after the initial refresh.
	ApplyOnStart bool
	// StaleRefreshLimit caps consecutive refreshes requested because a
	// pass hit an endpoint the audio system no longer knows.
	StaleRefreshLimit int
	// StatusPath is written after each unit when not empty.
	StatusPath string
	// History receives a record of each pass when not nil.
	History *store.PassLog
}

// Engine owns the endpoint cache, the priority lists and the scheduler that
// serializes refreshes, assignment passes and list edits on one worker.
type Engine struct {
	logger   *slog.Logger
	sys      system.AudioSystem
	cache    *endpoint.Cache
	lists    *store.PriorityLists
	assigner *assign.Assigner
	sched    *scheduler.Scheduler
	opts     Options

	mu             sync.RWMutex
	startedAt      time.Time
	lastPass       *assign.PassResult
	lastRefreshAt  time.Time
	lastRefreshErr error
	staleRefreshes int
	subscribers    []chan Event

	notifyDone chan struct{}
}

// NewEngine wires an engine over sys and lists. Nothing runs until Start.
func NewEngine(sys system.AudioSystem, lists *store.PriorityLists, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger: logger,
		sys:    sys,
		cache:  endpoint.NewCache(sys, logger),
		lists:  lists,
		opts:   opts,
	}
	e.assigner = assign.New(lists, e.cache, sys, logger)
	e.sched = scheduler.New(scheduler.Handlers{
		Refresh: e.refresh,
		Assign:  e.assignDefaults,
	}, logger)
	return e
}

// Start runs the worker and, if notifications is not nil, routes audio
// system notifications into it until the channel closes. The cache is
// populated first; without ApplyOnStart no pass runs until something
// requests one.
func (e *Engine) Start(ctx context.Context, notifications <-chan system.Notification) error {
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	if err := e.sched.Start(ctx); err != nil {
		return err
	}
	if e.opts.ApplyOnStart {
		e.sched.RequestRefresh()
	} else if err := e.sched.Do(ctx, e.refresh); err != nil {
		e.logger.Warn("initial endpoint refresh failed", "error", err)
	}

	if notifications != nil {
		e.notifyDone = make(chan struct{})
		go e.route(ctx, notifications)
	}
	return nil
}

// Stop halts the worker and closes subscriber channels. The notification
// source must be stopped first so the routing goroutine can exit.
func (e *Engine) Stop() {
	e.sched.Stop()
	if e.notifyDone != nil {
		<-e.notifyDone
	}

	e.mu.Lock()
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	e.mu.Unlock()
}

func (e *Engine) route(ctx context.Context, notifications <-chan system.Notification) {
	defer close(e.notifyDone)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			e.HandleNotification(n)
		}
	}
}

// HandleNotification turns an audio system notification into a scheduler
// request. Property, mute and volume changes cannot change which endpoint
// should be default and are dropped.
func (e *Engine) HandleNotification(n system.Notification) {
	switch n.Kind {
	case system.NotifyDeviceAdded, system.NotifyDeviceRemoved, system.NotifyStateChanged:
		e.logger.Debug("endpoint set changed", "kind", n.Kind, "endpoint", n.EndpointID)
		e.sched.RequestRefresh()
	case system.NotifyDefaultChanged:
		e.logger.Debug("default changed", "slot", n.Slot, "endpoint", n.EndpointID)
		e.sched.RequestAssignDefaults()
	default:
	}
}

// RequestRefresh asks for an endpoint refresh followed by an assignment pass.
func (e *Engine) RequestRefresh() {
	e.sched.RequestRefresh()
}

// RequestAssignDefaults asks for an assignment pass.
func (e *Engine) RequestAssignDefaults() {
	e.sched.RequestAssignDefaults()
}

// WaitIdle blocks until no unit is queued or running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.sched.WaitIdle(ctx)
}

// refresh is the scheduler's refresh handler.
func (e *Engine) refresh(ctx context.Context) error {
	err := e.cache.Refresh(ctx)

	e.mu.Lock()
	e.lastRefreshErr = err
	if err == nil {
		e.lastRefreshAt = time.Now()
	}
	e.mu.Unlock()

	if err == nil {
		e.publish(Event{Type: EventCacheRefreshed, Endpoints: len(e.cache.Endpoints())})
	}
	e.writeStatus()
	return err
}

// assignDefaults is the scheduler's assignment handler.
func (e *Engine) assignDefaults(ctx context.Context) {
	result := e.assigner.Run(ctx)

	e.mu.Lock()
	e.lastPass = &result
	refresh := false
	if result.RefreshWanted {
		e.staleRefreshes++
		refresh = e.staleRefreshes <= e.opts.StaleRefreshLimit
	} else {
		e.staleRefreshes = 0
	}
	e.mu.Unlock()

	if result.RefreshWanted {
		if refresh {
			e.logger.Info("stale endpoint reference, refreshing endpoints")
			e.sched.RequestRefresh()
		} else {
			e.logger.Warn("stale endpoint reference persists after refresh",
				"limit", e.opts.StaleRefreshLimit)
		}
	}

	if e.opts.History != nil {
		if err := e.opts.History.Append(PassRecord(result)); err != nil {
			e.logger.Warn("failed to record pass", "error", err)
		}
	}
	e.writeStatus()
	e.publish(Event{Type: EventDefaultsAssigned, Pass: &result})
}

// edit runs fn on the worker and requests a pass when it succeeds.
func (e *Engine) edit(ctx context.Context, fn func() error) error {
	if err := e.sched.Do(ctx, func(context.Context) error { return fn() }); err != nil {
		return err
	}
	e.sched.RequestAssignDefaults()
	return nil
}

// AddDescriptor appends d to the slot's list.
func (e *Engine) AddDescriptor(ctx context.Context, slot model.Slot, d model.Descriptor) error {
	return e.edit(ctx, func() error { return e.lists.Add(slot, d) })
}

// InsertDescriptor places d at index in the slot's list.
func (e *Engine) InsertDescriptor(ctx context.Context, slot model.Slot, d model.Descriptor, index int) error {
	return e.edit(ctx, func() error { return e.lists.Insert(slot, d, index) })
}

// RemoveDescriptor removes a descriptor from the slot's list.
func (e *Engine) RemoveDescriptor(ctx context.Context, slot model.Slot, id string) error {
	return e.edit(ctx, func() error { return e.lists.Remove(slot, id) })
}

// MoveDescriptor moves a descriptor within the slot's list.
func (e *Engine) MoveDescriptor(ctx context.Context, slot model.Slot, id string, to int) error {
	return e.edit(ctx, func() error { return e.lists.Move(slot, id, to) })
}

// UpdateDescriptor replaces every stored copy of d.
func (e *Engine) UpdateDescriptor(ctx context.Context, d model.Descriptor) error {
	return e.edit(ctx, func() error { return e.lists.Update(d) })
}

// SetSeparateCommunicationsPriority switches between unified and split
// comms lists.
func (e *Engine) SetSeparateCommunicationsPriority(ctx context.Context, separate bool) error {
	return e.edit(ctx, func() error { return e.lists.SetSeparateComms(separate) })
}

var errSettingsUnchanged = errors.New("settings unchanged")

// ReloadSettings replaces all lists with s. Settings equal to the current
// lists are ignored, which covers the file watcher firing on our own saves.
func (e *Engine) ReloadSettings(ctx context.Context, s *store.Settings) error {
	err := e.edit(ctx, func() error {
		if e.lists.Settings().Equal(s) {
			return errSettingsUnchanged
		}
		return e.lists.Replace(s)
	})
	if errors.Is(err, errSettingsUnchanged) {
		e.logger.Debug("settings reload skipped, nothing changed")
		return nil
	}
	if err == nil {
		e.logger.Info("priority lists reloaded")
	}
	return err
}

// Endpoints returns the cached endpoints.
func (e *Engine) Endpoints() []model.EndpointSnapshot {
	return e.cache.Endpoints()
}

// List returns the slot's list.
func (e *Engine) List(slot model.Slot) []model.Descriptor {
	return e.lists.List(slot)
}

// SeparateCommsPriority reports whether the comms slots have their own lists.
func (e *Engine) SeparateCommsPriority() bool {
	return e.lists.SeparateComms()
}

// LastPass returns the most recent assignment pass, if any.
func (e *Engine) LastPass() (assign.PassResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastPass == nil {
		return assign.PassResult{}, false
	}
	return *e.lastPass, true
}

// Stats returns the scheduler counters.
func (e *Engine) Stats() scheduler.Stats {
	return e.sched.Stats()
}

// Status builds the status published for the CLI.
func (e *Engine) Status() *store.Status {
	stats := e.sched.Stats()

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := store.DefaultStatus()
	s.PID = os.Getpid()
	s.Backend = e.opts.Backend
	if !e.startedAt.IsZero() {
		s.StartedAt = e.startedAt.Unix()
	}
	if !e.lastRefreshAt.IsZero() {
		s.LastRefreshAt = e.lastRefreshAt.Unix()
	}
	if e.lastRefreshErr != nil {
		s.LastRefreshError = e.lastRefreshErr.Error()
	}
	s.EndpointCount = len(e.cache.Endpoints())
	s.SeparateComms = e.lists.SeparateComms()
	if e.lastPass != nil {
		rec := PassRecord(*e.lastPass)
		s.LastPass = &rec
	}
	s.Scheduler = store.SchedulerCounters{
		Executed:   stats.Executed,
		Coalesced:  stats.Coalesced,
		Superseded: stats.Superseded,
	}
	return s
}

func (e *Engine) writeStatus() {
	if e.opts.StatusPath == "" {
		return
	}
	if err := store.SaveStatus(e.opts.StatusPath, e.Status()); err != nil {
		e.logger.Warn("failed to write status", "path", e.opts.StatusPath, "error", err)
	}
}

// Subscribe returns a channel that receives engine events.
func (e *Engine) Subscribe() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, 10)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// publish sends an event to all subscribers (non-blocking).
func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("engine event dropped", "type", ev.Type)
		}
	}
}

// PassRecord converts a pass result to its persisted form.
func PassRecord(result assign.PassResult) store.PassRecord {
	slots := make([]store.SlotRecord, 0, len(result.Slots))
	for _, r := range result.Slots {
		rec := store.SlotRecord{
			Slot:           r.Slot.String(),
			Outcome:        r.Outcome.String(),
			EndpointID:     r.EndpointID,
			DescriptorID:   r.DescriptorID,
			DescriptorName: r.DescriptorName,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		slots = append(slots, rec)
	}
	return store.NewPassRecord(result.StartedAt, result.Duration, slots)
}
