// Package endpoint holds the cached view of the audio subsystem's endpoints.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/system"
)

// Snapshot is one complete enumeration of endpoints. It is never modified
// after it is published.
type Snapshot struct {
	Endpoints   []model.EndpointSnapshot
	RefreshedAt time.Time
}

// Lookup returns the endpoint with the given id.
func (s *Snapshot) Lookup(id string) (model.EndpointSnapshot, bool) {
	for _, e := range s.Endpoints {
		if e.ID == id {
			return e, true
		}
	}
	return model.EndpointSnapshot{}, false
}

// Count returns how many endpoints of the role are in the snapshot.
func (s *Snapshot) Count(role model.Role) int {
	n := 0
	for _, e := range s.Endpoints {
		if e.Role == role {
			n++
		}
	}
	return n
}

// Cache holds the latest snapshot. Refresh replaces it wholesale, so
// readers see either the old or the new enumeration, never a mix.
type Cache struct {
	sys     system.AudioSystem
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewCache creates an empty cache over sys.
func NewCache(sys system.AudioSystem, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{sys: sys, logger: logger, now: time.Now}
	c.current.Store(&Snapshot{})
	return c
}

// Refresh enumerates playback then capture endpoints and publishes the
// result. If either enumeration fails the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	var endpoints []model.EndpointSnapshot
	for _, role := range model.Roles {
		found, err := c.sys.EnumerateEndpoints(ctx, role)
		if err != nil {
			return fmt.Errorf("enumerate %s endpoints: %w", role, err)
		}
		for _, e := range found {
			if e.Role != role {
				c.logger.Warn("endpoint enumerated under the wrong role, skipping",
					"endpoint", e.ID, "expected", role, "got", e.Role)
				continue
			}
			endpoints = append(endpoints, e)
		}
	}

	snap := &Snapshot{Endpoints: endpoints, RefreshedAt: c.now()}
	c.current.Store(snap)

	c.logger.Debug("endpoint cache refreshed",
		"playback", snap.Count(model.RolePlayback),
		"capture", snap.Count(model.RoleCapture))
	return nil
}

// Snapshot returns the current snapshot. The returned value shares no
// memory with the cache.
func (c *Cache) Snapshot() Snapshot {
	s := c.current.Load()
	return Snapshot{Endpoints: slices.Clone(s.Endpoints), RefreshedAt: s.RefreshedAt}
}

// Endpoints returns the endpoints of the current snapshot.
func (c *Cache) Endpoints() []model.EndpointSnapshot {
	return slices.Clone(c.current.Load().Endpoints)
}

// Lookup finds an endpoint by id in the current snapshot.
func (c *Cache) Lookup(id string) (model.EndpointSnapshot, bool) {
	return c.current.Load().Lookup(id)
}
