// Package system defines the boundary to the operating system's audio
// subsystem and provides backends for it.
package system

import (
	"context"
	"errors"

	"github.com/jmylchreest/audioprio/internal/model"
)

// Errors returned by AudioSystem implementations.
var (
	// ErrEndpointNotFound means the endpoint id is no longer known to the
	// audio subsystem. Callers treat this as a stale cache.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrUnsupportedSlot is returned for communications slots on backends
	// that have no separate communications default.
	ErrUnsupportedSlot = errors.New("slot not supported by audio backend")
)

// AudioSystem enumerates endpoints and reads and writes the default endpoint
// per slot.
type AudioSystem interface {
	// EnumerateEndpoints returns every endpoint of the role in every state.
	EnumerateEndpoints(ctx context.Context, role model.Role) ([]model.EndpointSnapshot, error)
	// GetDefault returns the current default endpoint id for the slot, or ""
	// when there is none.
	GetDefault(ctx context.Context, slot model.Slot) (string, error)
	// SetDefault makes the endpoint the default for the slot.
	SetDefault(ctx context.Context, slot model.Slot, endpointID string) error
}

// CommsCapability is implemented by backends that can report whether the
// communications slots exist.
type CommsCapability interface {
	SupportsCommunications() bool
}

// SupportsCommunications reports whether sys has separate communications
// defaults. Backends that do not say are assumed to.
func SupportsCommunications(sys AudioSystem) bool {
	if c, ok := sys.(CommsCapability); ok {
		return c.SupportsCommunications()
	}
	return true
}

// NotificationKind classifies a change reported by the audio subsystem.
type NotificationKind int

const (
	NotifyPropertyChanged NotificationKind = iota
	NotifyMuteChanged
	NotifyVolumeChanged
	NotifyDeviceAdded
	NotifyDeviceRemoved
	NotifyStateChanged
	NotifyDefaultChanged
)

// String returns the string representation of the kind.
func (k NotificationKind) String() string {
	switch k {
	case NotifyPropertyChanged:
		return "property-changed"
	case NotifyMuteChanged:
		return "mute-changed"
	case NotifyVolumeChanged:
		return "volume-changed"
	case NotifyDeviceAdded:
		return "device-added"
	case NotifyDeviceRemoved:
		return "device-removed"
	case NotifyStateChanged:
		return "state-changed"
	case NotifyDefaultChanged:
		return "default-changed"
	default:
		return "unknown"
	}
}

// Notification is a single change event.
type Notification struct {
	Kind       NotificationKind
	EndpointID string
	Slot       model.Slot // set for NotifyDefaultChanged
}

// Notifier delivers change notifications. The channel is closed when the
// notifier stops.
type Notifier interface {
	Notifications() <-chan Notification
}
