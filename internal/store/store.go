// Package store holds the user's priority lists and the files they and the
// daemon status are persisted to.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmylchreest/audioprio/internal/model"
)

// Mode says whether the communications slots have lists of their own.
type Mode int

const (
	// ModeUnified makes each comms slot use its role's primary list.
	ModeUnified Mode = iota
	// ModeSplit gives each comms slot an independent list.
	ModeSplit
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ModeSplit {
		return "split"
	}
	return "unified"
}

// ChangeType indicates the type of list change.
type ChangeType int

const (
	ChangeTypeAdd ChangeType = iota
	ChangeTypeRemove
	ChangeTypeMove
	ChangeTypeUpdate
	ChangeTypeMode
	ChangeTypeReplace
)

// ChangeEvent signals list content changes.
type ChangeEvent struct {
	Type         ChangeType
	Slot         model.Slot
	DescriptorID string
}

// Errors
var (
	ErrStoreClosed         = errors.New("store is closed")
	ErrDescriptorNotFound  = errors.New("descriptor not found")
	ErrDuplicateDescriptor = errors.New("descriptor appears twice in one list")
)

// PriorityLists keeps the ordered descriptor lists for every slot. Index 0
// is the highest priority. In unified mode the comms slots resolve to the
// primary list of their role, so an edit through either slot is visible
// through both.
type PriorityLists struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	mode     Mode
	primary  map[model.Role][]model.Descriptor
	comms    map[model.Role][]model.Descriptor
	settings *SettingsFile

	subscribers []chan ChangeEvent
	closed      bool
}

// NewPriorityLists creates empty lists in unified mode. If settings is not
// nil every successful edit is saved to it.
func NewPriorityLists(settings *SettingsFile, logger *slog.Logger) *PriorityLists {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityLists{
		logger:   logger,
		primary:  make(map[model.Role][]model.Descriptor),
		comms:    make(map[model.Role][]model.Descriptor),
		settings: settings,
	}
}

// backing returns the map that holds the slot's list.
func (p *PriorityLists) backing(slot model.Slot) map[model.Role][]model.Descriptor {
	if slot.Comms && p.mode == ModeSplit {
		return p.comms
	}
	return p.primary
}

// List returns a copy of the slot's list.
func (p *PriorityLists) List(slot model.Slot) []model.Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.backing(slot)[slot.Role])
}

// Mode returns the current comms mode.
func (p *PriorityLists) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SeparateComms reports whether the comms slots have their own lists.
func (p *PriorityLists) SeparateComms() bool {
	return p.Mode() == ModeSplit
}

// Find returns the first descriptor with the id in any list.
func (p *PriorityLists) Find(id string) (model.Descriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range []map[model.Role][]model.Descriptor{p.primary, p.comms} {
		for _, role := range model.Roles {
			if i := indexOf(m[role], id); i >= 0 {
				return m[role][i], true
			}
		}
	}
	return model.Descriptor{}, false
}

// Add appends d to the slot's list. Adding a descriptor that is already in
// the list does nothing.
func (p *PriorityLists) Add(slot model.Slot, d model.Descriptor) error {
	return p.mutate(func() (*ChangeEvent, error) {
		if err := checkRole(slot, &d); err != nil {
			return nil, err
		}
		m := p.backing(slot)
		if indexOf(m[slot.Role], d.ID) >= 0 {
			return nil, nil
		}
		m[slot.Role] = append(m[slot.Role], d)
		return &ChangeEvent{Type: ChangeTypeAdd, Slot: slot, DescriptorID: d.ID}, nil
	})
}

// Insert places d at index in the slot's list, moving it there if it is
// already present. The index is clamped to the list bounds.
func (p *PriorityLists) Insert(slot model.Slot, d model.Descriptor, index int) error {
	return p.mutate(func() (*ChangeEvent, error) {
		if err := checkRole(slot, &d); err != nil {
			return nil, err
		}
		m := p.backing(slot)
		list := m[slot.Role]
		if i := indexOf(list, d.ID); i >= 0 {
			list = slices.Delete(list, i, i+1)
		}
		index = clamp(index, len(list))
		m[slot.Role] = slices.Insert(list, index, d)
		return &ChangeEvent{Type: ChangeTypeAdd, Slot: slot, DescriptorID: d.ID}, nil
	})
}

// Remove deletes the descriptor from the slot's list.
func (p *PriorityLists) Remove(slot model.Slot, id string) error {
	return p.mutate(func() (*ChangeEvent, error) {
		m := p.backing(slot)
		i := indexOf(m[slot.Role], id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s in %s", ErrDescriptorNotFound, id, slot)
		}
		m[slot.Role] = slices.Delete(m[slot.Role], i, i+1)
		return &ChangeEvent{Type: ChangeTypeRemove, Slot: slot, DescriptorID: id}, nil
	})
}

// Move relocates a descriptor within the slot's list. The target index is
// clamped to the list bounds.
func (p *PriorityLists) Move(slot model.Slot, id string, to int) error {
	return p.mutate(func() (*ChangeEvent, error) {
		m := p.backing(slot)
		list := m[slot.Role]
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s in %s", ErrDescriptorNotFound, id, slot)
		}
		d := list[i]
		list = slices.Delete(list, i, i+1)
		m[slot.Role] = slices.Insert(list, clamp(to, len(list)), d)
		return &ChangeEvent{Type: ChangeTypeMove, Slot: slot, DescriptorID: id}, nil
	})
}

// Update replaces every stored copy of the descriptor with the same id, in
// the primary and comms lists alike.
func (p *PriorityLists) Update(d model.Descriptor) error {
	return p.mutate(func() (*ChangeEvent, error) {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		type position struct {
			list []model.Descriptor
			i    int
		}
		var found []position
		for _, m := range []map[model.Role][]model.Descriptor{p.primary, p.comms} {
			for _, role := range model.Roles {
				i := indexOf(m[role], d.ID)
				if i < 0 {
					continue
				}
				if role != d.Role {
					return nil, fmt.Errorf("%w: %s is stored as %s", model.ErrRoleMismatch, d.ID, role)
				}
				found = append(found, position{m[role], i})
			}
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, d.ID)
		}
		for _, pos := range found {
			pos.list[pos.i] = d
		}
		return &ChangeEvent{Type: ChangeTypeUpdate, Slot: model.Slot{Role: d.Role}, DescriptorID: d.ID}, nil
	})
}

// SetSeparateComms switches modes. Splitting starts each comms list as a
// copy of its primary list. Unifying discards the comms lists.
func (p *PriorityLists) SetSeparateComms(separate bool) error {
	return p.mutate(func() (*ChangeEvent, error) {
		switch {
		case separate && p.mode == ModeUnified:
			for _, role := range model.Roles {
				p.comms[role] = slices.Clone(p.primary[role])
			}
			p.mode = ModeSplit
		case !separate && p.mode == ModeSplit:
			p.comms = make(map[model.Role][]model.Descriptor)
			p.mode = ModeUnified
		default:
			return nil, nil
		}
		return &ChangeEvent{Type: ChangeTypeMode}, nil
	})
}

// Replace swaps in all lists from s after validating it. The lists are
// left untouched when s is invalid.
func (p *PriorityLists) Replace(s *Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return p.mutate(func() (*ChangeEvent, error) {
		p.primary = map[model.Role][]model.Descriptor{
			model.RolePlayback: slices.Clone(s.Playback),
			model.RoleCapture:  slices.Clone(s.Capture),
		}
		p.comms = make(map[model.Role][]model.Descriptor)
		p.mode = ModeUnified
		if s.SeparateCommsPriority {
			p.comms[model.RolePlayback] = slices.Clone(s.CommsPlayback)
			p.comms[model.RoleCapture] = slices.Clone(s.CommsCapture)
			p.mode = ModeSplit
		}
		return &ChangeEvent{Type: ChangeTypeReplace}, nil
	})
}

// Settings returns the lists in their persisted form.
func (p *PriorityLists) Settings() *Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *PriorityLists) snapshotLocked() *Settings {
	s := &Settings{
		SchemaVersion:         SettingsSchemaVersion,
		SeparateCommsPriority: p.mode == ModeSplit,
		Playback:              slices.Clone(p.primary[model.RolePlayback]),
		Capture:               slices.Clone(p.primary[model.RoleCapture]),
	}
	if p.mode == ModeSplit {
		s.CommsPlayback = slices.Clone(p.comms[model.RolePlayback])
		s.CommsCapture = slices.Clone(p.comms[model.RoleCapture])
	}
	return s
}

// mutate runs fn under the write lock. A nil event means nothing changed.
// Changes are saved before subscribers are told; if fn or the save fails
// the lists are put back as they were.
func (p *PriorityLists) mutate(fn func() (*ChangeEvent, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStoreClosed
	}

	mode, primary, comms := p.mode, cloneLists(p.primary), cloneLists(p.comms)
	rollback := func() {
		p.mode, p.primary, p.comms = mode, primary, comms
	}

	event, err := fn()
	if err != nil {
		rollback()
		return err
	}
	if event == nil {
		return nil
	}

	if p.settings != nil {
		if err := p.settings.Save(p.snapshotLocked()); err != nil {
			rollback()
			return fmt.Errorf("save settings: %w", err)
		}
	}

	p.notifyChange(*event)
	return nil
}

func cloneLists(m map[model.Role][]model.Descriptor) map[model.Role][]model.Descriptor {
	out := make(map[model.Role][]model.Descriptor, len(m))
	for role, list := range m {
		out[role] = slices.Clone(list)
	}
	return out
}

// Subscribe returns a channel that receives change events.
func (p *PriorityLists) Subscribe() <-chan ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (p *PriorityLists) Unsubscribe(ch <-chan ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes all subscriber channels. Later edits fail with
// ErrStoreClosed.
func (p *PriorityLists) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// notifyChange sends a change event to all subscribers (non-blocking).
func (p *PriorityLists) notifyChange(event ChangeEvent) {
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			p.logger.Debug("change event dropped", "type", event.Type)
		}
	}
}

func checkRole(slot model.Slot, d *model.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Role != slot.Role {
		return fmt.Errorf("%w: %s descriptor %s cannot go in the %s list",
			model.ErrRoleMismatch, d.Role, d.ID, slot)
	}
	return nil
}

func indexOf(list []model.Descriptor, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
