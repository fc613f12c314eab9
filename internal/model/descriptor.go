package model

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// IdentificationMethod selects how strictly a descriptor must match a live
// endpoint.
type IdentificationMethod int

const (
	// MethodStrict matches on the endpoint id only.
	MethodStrict IdentificationMethod = iota
	// MethodLoose matches on host device description and form factor.
	MethodLoose
	// MethodCustom matches on the descriptor's own flag set.
	MethodCustom
)

// String returns the string representation of the method.
func (m IdentificationMethod) String() string {
	switch m {
	case MethodStrict:
		return "strict"
	case MethodLoose:
		return "loose"
	case MethodCustom:
		return "custom"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m IdentificationMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *IdentificationMethod) UnmarshalText(text []byte) error {
	method, err := ParseIdentificationMethod(string(text))
	if err != nil {
		return err
	}
	*m = method
	return nil
}

// ParseIdentificationMethod parses "strict", "loose" or "custom".
func ParseIdentificationMethod(s string) (IdentificationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return MethodStrict, nil
	case "loose":
		return MethodLoose, nil
	case "custom":
		return MethodCustom, nil
	default:
		return 0, fmt.Errorf("unknown identification method %q", s)
	}
}

// IdentityFlags is a bitset over the identity-relevant endpoint fields.
type IdentityFlags uint8

const (
	FlagEndpointID IdentityFlags = 1 << iota
	FlagFormFactor
	FlagJackSubType
	FlagContainerID
	FlagDeviceDescription
	FlagIconPath
	FlagInterfaceFriendlyName
	FlagHostDeviceDescription

	FlagsNone IdentityFlags = 0
	FlagsAll                = FlagEndpointID | FlagFormFactor | FlagJackSubType | FlagContainerID |
		FlagDeviceDescription | FlagIconPath | FlagInterfaceFriendlyName | FlagHostDeviceDescription

	// FlagsStrict is the flag set implied by MethodStrict.
	FlagsStrict = FlagEndpointID
	// FlagsLoose is the flag set implied by MethodLoose.
	FlagsLoose = FlagHostDeviceDescription | FlagFormFactor
)

// flagNames is ordered by bit position.
var flagNames = []struct {
	flag IdentityFlags
	name string
}{
	{FlagEndpointID, "endpoint_id"},
	{FlagFormFactor, "form_factor"},
	{FlagJackSubType, "jack_subtype"},
	{FlagContainerID, "container_id"},
	{FlagDeviceDescription, "description"},
	{FlagIconPath, "icon_path"},
	{FlagInterfaceFriendlyName, "interface_name"},
	{FlagHostDeviceDescription, "host_description"},
}

// Has reports whether every flag in other is set.
func (f IdentityFlags) Has(other IdentityFlags) bool {
	return f&other == other
}

// Count returns the number of flags set.
func (f IdentityFlags) Count() int {
	return bits.OnesCount8(uint8(f))
}

// Names returns the flag names in bit order.
func (f IdentityFlags) Names() []string {
	names := make([]string, 0, f.Count())
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

// String joins the flag names with "|", or returns "none".
func (f IdentityFlags) String() string {
	if f == FlagsNone {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// ParseIdentityFlag parses a single flag name.
func ParseIdentityFlag(name string) (IdentityFlags, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, nil
		}
	}
	return FlagsNone, fmt.Errorf("unknown identity flag %q", name)
}

// ParseIdentityFlags parses a list of flag names. Names may also be joined
// with "|" or "," inside a single element.
func ParseIdentityFlags(names []string) (IdentityFlags, error) {
	var flags IdentityFlags
	for _, n := range names {
		for _, part := range strings.FieldsFunc(n, func(r rune) bool { return r == '|' || r == ',' }) {
			if strings.TrimSpace(part) == "" || strings.EqualFold(strings.TrimSpace(part), "none") {
				continue
			}
			flag, err := ParseIdentityFlag(part)
			if err != nil {
				return FlagsNone, err
			}
			flags |= flag
		}
	}
	return flags, nil
}

// MarshalJSON encodes the flags as an array of names.
func (f IdentityFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

// UnmarshalJSON decodes an array of names. Unknown names are rejected.
func (f *IdentityFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("identity flags: %w", err)
	}
	flags, err := ParseIdentityFlags(names)
	if err != nil {
		return err
	}
	*f = flags
	return nil
}

// MarshalYAML encodes the flags as a sequence of names.
func (f IdentityFlags) MarshalYAML() (any, error) {
	return f.Names(), nil
}

// Descriptor is a user's persisted intent to prefer a particular endpoint,
// possibly one that has since been reconnected elsewhere or renamed.
type Descriptor struct {
	ID          string               `json:"id" yaml:"id"`
	Role        Role                 `json:"role" yaml:"role"`
	Name        string               `json:"name" yaml:"name"`
	Enabled     bool                 `json:"enabled" yaml:"enabled"`
	Method      IdentificationMethod `json:"identification" yaml:"identification"`
	CustomFlags IdentityFlags        `json:"custom_flags" yaml:"custom_flags"`
	Endpoint    EndpointSnapshot     `json:"endpoint" yaml:"endpoint"`
}

// Descriptor errors.
var (
	ErrEmptyDescriptorID = errors.New("descriptor id cannot be empty")
	// ErrRoleMismatch reports a descriptor used with a list or query of the
	// other role. It is a data-integrity error and is never coerced.
	ErrRoleMismatch = errors.New("descriptor role does not match")
)

// NewDescriptor creates an enabled descriptor targeting the given endpoint,
// named after it, with a freshly generated ULID.
func NewDescriptor(endpoint EndpointSnapshot, method IdentificationMethod) (*Descriptor, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ULID: %w", err)
	}

	return &Descriptor{
		ID:          id.String(),
		Role:        endpoint.Role,
		Name:        endpoint.DisplayName(),
		Enabled:     true,
		Method:      method,
		CustomFlags: FlagsLoose,
		Endpoint:    identityFields(endpoint),
	}, nil
}

// Validate checks the descriptor's invariants.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return ErrEmptyDescriptorID
	}
	if !d.Role.Valid() {
		return ErrInvalidRole
	}
	if d.Endpoint.Role != d.Role {
		return fmt.Errorf("%w: descriptor %s is %s but its endpoint is %s",
			ErrRoleMismatch, d.ID, d.Role, d.Endpoint.Role)
	}
	return nil
}

// Retarget points the descriptor at a different live endpoint of the same
// role. The display name follows the endpoint unless the user renamed it.
func (d *Descriptor) Retarget(endpoint EndpointSnapshot) error {
	if endpoint.Role != d.Role {
		return fmt.Errorf("%w: cannot retarget %s descriptor to %s endpoint %s",
			ErrRoleMismatch, d.Role, endpoint.Role, endpoint.ID)
	}
	if d.Name == "" || d.Name == d.Endpoint.DisplayName() {
		d.Name = endpoint.DisplayName()
	}
	d.Endpoint = identityFields(endpoint)
	return nil
}

// Flags returns the identity flags that apply under the descriptor's method.
func (d *Descriptor) Flags() IdentityFlags {
	switch d.Method {
	case MethodStrict:
		return FlagsStrict
	case MethodLoose:
		return FlagsLoose
	default:
		return d.CustomFlags
	}
}

// MaskCustomFlags drops custom flags that are not in allowed and reports
// which ones were removed.
func (d *Descriptor) MaskCustomFlags(allowed IdentityFlags) IdentityFlags {
	dropped := d.CustomFlags &^ allowed
	d.CustomFlags &= allowed
	return dropped
}

// identityFields copies the endpoint, clearing the per-refresh state so the
// template only carries identity.
func identityFields(e EndpointSnapshot) EndpointSnapshot {
	e.State = StateActive
	return e
}
