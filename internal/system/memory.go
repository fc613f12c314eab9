package system

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jmylchreest/audioprio/internal/model"
)

// SetDefaultCall records one SetDefault invocation on a Memory system.
type SetDefaultCall struct {
	Slot       model.Slot
	EndpointID string
}

// Memory is an in-memory AudioSystem. It backs tests and the CLI's demo
// backend. All methods are safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	endpoints []model.EndpointSnapshot
	defaults  map[model.Slot]string
	comms     bool
	calls     []SetDefaultCall

	enumerateErr error
	setErr       map[string]error
	hidden       map[string]bool
}

// NewMemory creates a Memory system with the given endpoints and no
// defaults.
func NewMemory(endpoints ...model.EndpointSnapshot) *Memory {
	return &Memory{
		endpoints: slices.Clone(endpoints),
		defaults:  make(map[model.Slot]string),
		comms:     true,
		setErr:    make(map[string]error),
		hidden:    make(map[string]bool),
	}
}

// EnumerateEndpoints implements AudioSystem.
func (m *Memory) EnumerateEndpoints(ctx context.Context, role model.Role) ([]model.EndpointSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enumerateErr != nil {
		return nil, m.enumerateErr
	}

	var result []model.EndpointSnapshot
	for _, e := range m.endpoints {
		if e.Role == role {
			result = append(result, e)
		}
	}
	return result, nil
}

// GetDefault implements AudioSystem.
func (m *Memory) GetDefault(ctx context.Context, slot model.Slot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if slot.Comms && !m.comms {
		return "", ErrUnsupportedSlot
	}
	return m.defaults[slot], nil
}

// SetDefault implements AudioSystem. Unknown ids and ids removed with
// Remove, or masked with HideFromSet, return ErrEndpointNotFound.
func (m *Memory) SetDefault(ctx context.Context, slot model.Slot, endpointID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SetDefaultCall{Slot: slot, EndpointID: endpointID})

	if slot.Comms && !m.comms {
		return ErrUnsupportedSlot
	}
	if err := m.setErr[endpointID]; err != nil {
		return err
	}
	if m.hidden[endpointID] || m.indexOf(endpointID) < 0 {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointID)
	}

	m.defaults[slot] = endpointID
	return nil
}

// SupportsCommunications implements CommsCapability.
func (m *Memory) SupportsCommunications() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.comms
}

// SetCommunications toggles whether the communications slots exist.
func (m *Memory) SetCommunications(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comms = enabled
}

// Add appends an endpoint, replacing any existing one with the same id.
func (m *Memory) Add(e model.EndpointSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(e.ID); i >= 0 {
		m.endpoints[i] = e
		return
	}
	m.endpoints = append(m.endpoints, e)
}

// Remove deletes an endpoint. Defaults pointing at it are cleared.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(id); i >= 0 {
		m.endpoints = slices.Delete(m.endpoints, i, i+1)
	}
	for slot, def := range m.defaults {
		if def == id {
			delete(m.defaults, slot)
		}
	}
}

// SetState changes an endpoint's state.
func (m *Memory) SetState(id string, state model.EndpointState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(id); i >= 0 {
		m.endpoints[i].State = state
	}
}

// SetDefaultDirect changes a default without recording a call, as if the
// user had changed it outside this program.
func (m *Memory) SetDefaultDirect(slot model.Slot, endpointID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[slot] = endpointID
}

// FailEnumerate makes EnumerateEndpoints return err. Pass nil to clear.
func (m *Memory) FailEnumerate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumerateErr = err
}

// FailSetDefault makes SetDefault return err for the endpoint. Pass nil to
// clear.
func (m *Memory) FailSetDefault(endpointID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.setErr, endpointID)
		return
	}
	m.setErr[endpointID] = err
}

// HideFromSet keeps the endpoint enumerable but makes SetDefault reject it
// as not found, as when a device disappears between refresh and use.
func (m *Memory) HideFromSet(endpointID string, hidden bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[endpointID] = hidden
}

// Calls returns every SetDefault call made so far.
func (m *Memory) Calls() []SetDefaultCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// ResetCalls clears the recorded SetDefault calls.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Default returns the current default for the slot.
func (m *Memory) Default(slot model.Slot) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaults[slot]
}

func (m *Memory) indexOf(id string) int {
	for i := range m.endpoints {
		if m.endpoints[i].ID == id {
			return i
		}
	}
	return -1
}
