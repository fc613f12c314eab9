// Package model defines the core data structures for audioprio.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the data flow direction of an endpoint. An endpoint is never both.
type Role int

const (
	// RolePlayback is an output (render) endpoint.
	RolePlayback Role = iota
	// RoleCapture is an input (capture) endpoint.
	RoleCapture
)

// Roles lists both roles in enumeration order.
var Roles = []Role{RolePlayback, RoleCapture}

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RolePlayback:
		return "playback"
	case RoleCapture:
		return "capture"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RolePlayback || r == RoleCapture
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole parses a role name. "output"/"input" are accepted as aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playback", "output", "render":
		return RolePlayback, nil
	case "capture", "input":
		return RoleCapture, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// EndpointState mirrors the device states reported by the audio subsystem.
type EndpointState int

const (
	StateActive EndpointState = iota
	StateDisabled
	StateNotPresent
	StateUnplugged
)

// String returns the string representation of the state.
func (s EndpointState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateNotPresent:
		return "not-present"
	case StateUnplugged:
		return "unplugged"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s EndpointState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EndpointState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StateActive
	case "disabled":
		*s = StateDisabled
	case "not-present":
		*s = StateNotPresent
	case "unplugged":
		*s = StateUnplugged
	default:
		return fmt.Errorf("unknown endpoint state %q", string(text))
	}
	return nil
}

// FormFactor is the coarse physical category of an endpoint.
type FormFactor string

const (
	FormFactorUnknown         FormFactor = ""
	FormFactorRemoteNetwork   FormFactor = "remote-network"
	FormFactorSpeakers        FormFactor = "speakers"
	FormFactorLineLevel       FormFactor = "line-level"
	FormFactorHeadphones      FormFactor = "headphones"
	FormFactorMicrophone      FormFactor = "microphone"
	FormFactorHeadset         FormFactor = "headset"
	FormFactorHandset         FormFactor = "handset"
	FormFactorDigitalPassthru FormFactor = "digital-passthrough"
	FormFactorSPDIF           FormFactor = "spdif"
	FormFactorDigitalDisplay  FormFactor = "digital-display"
)

// EndpointSnapshot describes one endpoint as observed during a single cache
// refresh. Role and ID never change; all other fields are re-read from the
// audio subsystem on every refresh. An empty optional field means the value
// is not reported.
type EndpointSnapshot struct {
	Role                  Role          `json:"role" yaml:"role"`
	ID                    string        `json:"id" yaml:"id"`
	State                 EndpointState `json:"state" yaml:"state"`
	FormFactor            FormFactor    `json:"form_factor,omitempty" yaml:"form_factor,omitempty"`
	JackSubType           string        `json:"jack_subtype,omitempty" yaml:"jack_subtype,omitempty"`
	ContainerID           string        `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	DeviceDescription     string        `json:"description,omitempty" yaml:"description,omitempty"`
	IconPath              string        `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	InterfaceFriendlyName string        `json:"interface_name,omitempty" yaml:"interface_name,omitempty"`
	HostDeviceDescription string        `json:"host_description,omitempty" yaml:"host_description,omitempty"`
}

// Validation errors.
var (
	ErrEmptyEndpointID = errors.New("endpoint id cannot be empty")
	ErrInvalidRole     = errors.New("role must be playback or capture")
)

// Validate checks the fields that are fixed at creation.
func (e *EndpointSnapshot) Validate() error {
	if !e.Role.Valid() {
		return ErrInvalidRole
	}
	if e.ID == "" {
		return ErrEmptyEndpointID
	}
	return nil
}

// IsActive reports whether the endpoint can currently be made default.
func (e *EndpointSnapshot) IsActive() bool {
	return e.State == StateActive
}

// DisplayName returns the most descriptive non-empty name for the endpoint.
func (e *EndpointSnapshot) DisplayName() string {
	for _, name := range []string{e.DeviceDescription, e.InterfaceFriendlyName, e.HostDeviceDescription} {
		if name != "" {
			return name
		}
	}
	return e.ID
}

// Slot addresses one assignable default: a role, optionally in its
// communications variant.
type Slot struct {
	Role  Role `json:"role" yaml:"role"`
	Comms bool `json:"comms" yaml:"comms"`
}

// AllSlots lists the four slots in the order an assignment pass visits them.
var AllSlots = []Slot{
	{Role: RoleCapture},
	{Role: RolePlayback},
	{Role: RoleCapture, Comms: true},
	{Role: RolePlayback, Comms: true},
}

// String returns "playback", "comms-capture", etc.
func (s Slot) String() string {
	if s.Comms {
		return "comms-" + s.Role.String()
	}
	return s.Role.String()
}

// ParseSlot parses the output of Slot.String.
func ParseSlot(s string) (Slot, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	comms := false
	if rest, ok := strings.CutPrefix(s, "comms-"); ok {
		comms = true
		s = rest
	}
	role, err := ParseRole(s)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot: %w", err)
	}
	return Slot{Role: role, Comms: comms}, nil
}
