// Package core provides endpoint identity matching and list filtering.
package core

import (
	"github.com/jmylchreest/audioprio/internal/model"
)

// FlagsFor returns the identity flags applied when matching d.
func FlagsFor(d *model.Descriptor) model.IdentityFlags {
	return d.Flags()
}

// Match resolves a descriptor to the first live endpoint in snapshot order
// whose identity fields agree with the descriptor's template on every
// applicable flag. Endpoints that are not active or have the other role are
// skipped. A disabled descriptor never matches. An empty flag set matches
// the first active endpoint of the role.
func Match(d *model.Descriptor, endpoints []model.EndpointSnapshot) (model.EndpointSnapshot, bool) {
	if d == nil || !d.Enabled {
		return model.EndpointSnapshot{}, false
	}

	flags := FlagsFor(d)
	for i := range endpoints {
		if matches(&d.Endpoint, &endpoints[i], d.Role, flags) {
			return endpoints[i], true
		}
	}
	return model.EndpointSnapshot{}, false
}

// MatchAll returns every endpoint the descriptor would accept, in snapshot
// order. The first element is what Match returns. Unlike Match, a disabled
// descriptor is still evaluated so its candidates can be inspected.
func MatchAll(d *model.Descriptor, endpoints []model.EndpointSnapshot) []model.EndpointSnapshot {
	if d == nil {
		return nil
	}

	flags := FlagsFor(d)
	var result []model.EndpointSnapshot
	for i := range endpoints {
		if matches(&d.Endpoint, &endpoints[i], d.Role, flags) {
			result = append(result, endpoints[i])
		}
	}
	return result
}

// Mismatches reports which of the applicable flags differ between the
// descriptor's template and the endpoint. Role and state are not considered.
func Mismatches(d *model.Descriptor, e *model.EndpointSnapshot) model.IdentityFlags {
	return differing(&d.Endpoint, e, FlagsFor(d))
}

func matches(template, candidate *model.EndpointSnapshot, role model.Role, flags model.IdentityFlags) bool {
	if !candidate.IsActive() || candidate.Role != role {
		return false
	}
	return differing(template, candidate, flags) == model.FlagsNone
}

// differing compares each selected field. Two unreported values are equal.
func differing(a, b *model.EndpointSnapshot, flags model.IdentityFlags) model.IdentityFlags {
	var diff model.IdentityFlags
	check := func(flag model.IdentityFlags, x, y string) {
		if flags.Has(flag) && x != y {
			diff |= flag
		}
	}

	check(model.FlagEndpointID, a.ID, b.ID)
	check(model.FlagFormFactor, string(a.FormFactor), string(b.FormFactor))
	check(model.FlagJackSubType, a.JackSubType, b.JackSubType)
	check(model.FlagContainerID, a.ContainerID, b.ContainerID)
	check(model.FlagDeviceDescription, a.DeviceDescription, b.DeviceDescription)
	check(model.FlagIconPath, a.IconPath, b.IconPath)
	check(model.FlagInterfaceFriendlyName, a.InterfaceFriendlyName, b.InterfaceFriendlyName)
	check(model.FlagHostDeviceDescription, a.HostDeviceDescription, b.HostDeviceDescription)
	return diff
}
