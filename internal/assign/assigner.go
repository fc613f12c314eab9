// Package assign walks the priority lists and makes the first live match
// the default endpoint of each slot.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/system"
)

// Errors
var (
	// ErrStaleEndpoint means the cache named an endpoint the audio system no
	// longer knows. The cache should be refreshed.
	ErrStaleEndpoint = errors.New("cached endpoint no longer exists")
	// ErrNoChanges is returned by PassResult.Err when every supported slot
	// failed.
	ErrNoChanges = errors.New("no changes made, see log")
)

// Outcome is the result of assigning one slot.
type Outcome int

const (
	// OutcomeUnchanged means the first match already was the default.
	OutcomeUnchanged Outcome = iota
	// OutcomeChanged means the default was set to the first match.
	OutcomeChanged
	// OutcomeNoMatch means no descriptor matched a live endpoint; the
	// default was left alone.
	OutcomeNoMatch
	// OutcomeFailed means reading or setting the default failed.
	OutcomeFailed
	// OutcomeUnsupported means the backend has no such slot.
	OutcomeUnsupported
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	case OutcomeNoMatch:
		return "no-match"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// SlotResult reports what happened to one slot.
type SlotResult struct {
	Slot           model.Slot `json:"slot"`
	Outcome        Outcome    `json:"outcome"`
	DescriptorID   string     `json:"descriptor_id,omitempty"`
	DescriptorName string     `json:"descriptor_name,omitempty"`
	EndpointID     string     `json:"endpoint_id,omitempty"`
	Previous       string     `json:"previous,omitempty"`
	Err            error      `json:"-"`
}

// Stale reports whether the slot failed on a stale cache entry.
func (r *SlotResult) Stale() bool {
	return errors.Is(r.Err, ErrStaleEndpoint)
}

// PassResult reports a full pass over every slot.
type PassResult struct {
	Slots         []SlotResult
	RefreshWanted bool
	StartedAt     time.Time
	Duration      time.Duration
	DryRun        bool
}

// Count returns how many slots ended with the outcome.
func (p *PassResult) Count(o Outcome) int {
	n := 0
	for i := range p.Slots {
		if p.Slots[i].Outcome == o {
			n++
		}
	}
	return n
}

// Err returns ErrNoChanges when every supported slot failed. A slot with no
// match counts as handled, so partial failures are only reported per slot.
func (p *PassResult) Err() error {
	supported := len(p.Slots) - p.Count(OutcomeUnsupported)
	if supported > 0 && p.Count(OutcomeFailed) == supported {
		return ErrNoChanges
	}
	return nil
}

// ListSource provides the ordered descriptors for a slot.
type ListSource interface {
	List(slot model.Slot) []model.Descriptor
}

// EndpointSource provides the current endpoint snapshot.
type EndpointSource interface {
	Endpoints() []model.EndpointSnapshot
}

// Assigner performs assignment passes.
type Assigner struct {
	lists     ListSource
	endpoints EndpointSource
	sys       system.AudioSystem
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Assigner.
func New(lists ListSource, endpoints EndpointSource, sys system.AudioSystem, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		lists:     lists,
		endpoints: endpoints,
		sys:       sys,
		logger:    logger,
		now:       time.Now,
	}
}

// AssignDefault makes the first descriptor in the slot's list that matches
// a live endpoint the slot's default, unless it already is.
func (a *Assigner) AssignDefault(ctx context.Context, slot model.Slot) SlotResult {
	return a.assign(ctx, slot, a.endpoints.Endpoints(), false)
}

// Run assigns every slot in order: capture, playback, then the comms
// variants. A failing slot does not stop the pass.
func (a *Assigner) Run(ctx context.Context) PassResult {
	return a.run(ctx, false)
}

// Plan computes what Run would do without changing any default.
func (a *Assigner) Plan(ctx context.Context) PassResult {
	return a.run(ctx, true)
}

func (a *Assigner) run(ctx context.Context, dryRun bool) PassResult {
	result := PassResult{StartedAt: a.now(), DryRun: dryRun}
	endpoints := a.endpoints.Endpoints()

	for _, slot := range model.AllSlots {
		r := a.assign(ctx, slot, endpoints, dryRun)
		if r.Stale() {
			result.RefreshWanted = true
		}
		result.Slots = append(result.Slots, r)
	}

	result.Duration = a.now().Sub(result.StartedAt)

	if err := result.Err(); err != nil {
		a.logger.Error("assignment pass failed", "error", err)
	} else {
		a.logger.Debug("assignment pass complete",
			"changed", result.Count(OutcomeChanged),
			"failed", result.Count(OutcomeFailed),
			"dry_run", dryRun,
			"duration", result.Duration)
	}
	return result
}

func (a *Assigner) assign(ctx context.Context, slot model.Slot, endpoints []model.EndpointSnapshot, dryRun bool) SlotResult {
	result := SlotResult{Slot: slot, Outcome: OutcomeNoMatch}

	if slot.Comms && !system.SupportsCommunications(a.sys) {
		result.Outcome = OutcomeUnsupported
		return result
	}

	for _, d := range a.lists.List(slot) {
		if d.Role != slot.Role {
			result.Outcome = OutcomeFailed
			result.DescriptorID = d.ID
			result.Err = fmt.Errorf("%w: %s descriptor %s in %s list", model.ErrRoleMismatch, d.Role, d.ID, slot)
			a.logger.Error("priority list is inconsistent", "slot", slot, "error", result.Err)
			return result
		}

		e, ok := core.Match(&d, endpoints)
		if !ok {
			continue
		}

		result.DescriptorID = d.ID
		result.DescriptorName = d.Name
		result.EndpointID = e.ID
		return a.apply(ctx, result, dryRun)
	}

	a.logger.Debug("no descriptor matched a live endpoint", "slot", slot)
	return result
}

func (a *Assigner) apply(ctx context.Context, result SlotResult, dryRun bool) SlotResult {
	current, err := a.sys.GetDefault(ctx, result.Slot)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("read %s default: %w", result.Slot, err)
		a.logger.Warn("failed to read default", "slot", result.Slot, "error", err)
		return result
	}
	result.Previous = current

	if current == result.EndpointID {
		result.Outcome = OutcomeUnchanged
		return result
	}

	if dryRun {
		result.Outcome = OutcomeChanged
		return result
	}

	if err := a.sys.SetDefault(ctx, result.Slot, result.EndpointID); err != nil {
		result.Outcome = OutcomeFailed
		if errors.Is(err, system.ErrEndpointNotFound) {
			result.Err = fmt.Errorf("%w: %w", ErrStaleEndpoint, err)
		} else {
			result.Err = fmt.Errorf("set %s default: %w", result.Slot, err)
		}
		a.logger.Warn("failed to set default",
			"slot", result.Slot, "endpoint", result.EndpointID, "error", err)
		return result
	}

	result.Outcome = OutcomeChanged
	a.logger.Info("default endpoint changed",
		"slot", result.Slot,
		"endpoint", result.EndpointID,
		"descriptor", result.DescriptorName,
		"previous", result.Previous)
	return result
}
