package system

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/audioprio/internal/model"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = time.Second

// Poller turns an AudioSystem without a push feed into a Notifier. It
// enumerates endpoints and reads defaults on a ticker and emits one
// notification per observed difference. The first poll only records a
// baseline.
type Poller struct {
	mu     sync.RWMutex
	logger *slog.Logger
	sys    AudioSystem

	pollInterval time.Duration

	// Last observed state
	endpoints map[string]model.EndpointSnapshot
	defaults  map[model.Slot]string
	primed    bool

	out     chan Notification
	dropped int

	// Control channels
	stopCh chan struct{}
	doneCh chan struct{}

	running bool
	started bool
}

// NewPoller creates a Poller for sys.
func NewPoller(sys AudioSystem, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		logger:       logger,
		sys:          sys,
		pollInterval: DefaultPollInterval,
		out:          make(chan Notification, 64),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetPollInterval sets the polling interval. Values <= 0 are ignored.
func (p *Poller) SetPollInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollInterval = interval
}

// Notifications implements Notifier. The channel is closed once the poll
// loop exits.
func (p *Poller) Notifications() <-chan Notification {
	return p.out
}

// Dropped returns how many notifications were discarded because the
// consumer was not keeping up.
func (p *Poller) Dropped() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dropped
}

// Start begins polling. A Poller can only be started once.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.started {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.started = true
	interval := p.pollInterval
	p.mu.Unlock()

	go p.pollLoop(ctx, interval)

	p.logger.Debug("audio poller started", "interval", interval)
	return nil
}

// Stop stops polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
	p.logger.Debug("audio poller stopped")
}

func (p *Poller) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(p.doneCh)
	defer close(p.out)

	p.Poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single observation and emits notifications for every
// difference from the previous one. A failed enumeration is logged and
// skipped so a transient error never reports every device as removed.
// Poll is called by the loop; call it directly only on a poller that was
// never started.
func (p *Poller) Poll(ctx context.Context) {
	current := make(map[string]model.EndpointSnapshot)
	order := make([]string, 0)
	for _, role := range model.Roles {
		endpoints, err := p.sys.EnumerateEndpoints(ctx, role)
		if err != nil {
			p.logger.Debug("poll: enumerate failed", "role", role, "error", err)
			return
		}
		for _, e := range endpoints {
			current[e.ID] = e
			order = append(order, e.ID)
		}
	}

	defaults := make(map[model.Slot]string)
	comms := SupportsCommunications(p.sys)
	for _, slot := range model.AllSlots {
		if slot.Comms && !comms {
			continue
		}
		id, err := p.sys.GetDefault(ctx, slot)
		if err != nil {
			p.logger.Debug("poll: get default failed", "slot", slot, "error", err)
			continue
		}
		defaults[slot] = id
	}

	p.mu.Lock()
	previous, prevDefaults, primed := p.endpoints, p.defaults, p.primed
	p.endpoints, p.defaults, p.primed = current, defaults, true
	p.mu.Unlock()

	if !primed {
		return
	}

	for _, id := range order {
		e := current[id]
		old, ok := previous[id]
		switch {
		case !ok:
			p.emit(Notification{Kind: NotifyDeviceAdded, EndpointID: id})
		case old.State != e.State:
			p.emit(Notification{Kind: NotifyStateChanged, EndpointID: id})
		case old != e:
			p.emit(Notification{Kind: NotifyPropertyChanged, EndpointID: id})
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			p.emit(Notification{Kind: NotifyDeviceRemoved, EndpointID: id})
		}
	}
	for _, slot := range model.AllSlots {
		id, ok := defaults[slot]
		if !ok {
			continue
		}
		if prev, had := prevDefaults[slot]; had && prev != id {
			p.emit(Notification{Kind: NotifyDefaultChanged, EndpointID: id, Slot: slot})
		}
	}
}

// emit never blocks the poll loop.
func (p *Poller) emit(n Notification) {
	select {
	case p.out <- n:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Debug("notification dropped, consumer busy", "kind", n.Kind, "endpoint", n.EndpointID)
	}
}
