package core

import (
	"sort"
	"strings"

	"github.com/jmylchreest/audioprio/internal/model"
)

// FilterOptions specifies criteria for filtering endpoints.
type FilterOptions struct {
	Role       *model.Role // nil = both roles
	ActiveOnly bool
	Search     string // case-insensitive substring of id or any name
}

// Filter returns the endpoints that satisfy opts, preserving order.
func Filter(endpoints []model.EndpointSnapshot, opts FilterOptions) []model.EndpointSnapshot {
	term := strings.ToLower(opts.Search)
	result := make([]model.EndpointSnapshot, 0, len(endpoints))

	for _, e := range endpoints {
		if opts.Role != nil && e.Role != *opts.Role {
			continue
		}
		if opts.ActiveOnly && !e.IsActive() {
			continue
		}
		if term != "" && !containsTerm(&e, term) {
			continue
		}
		result = append(result, e)
	}

	return result
}

func containsTerm(e *model.EndpointSnapshot, term string) bool {
	for _, s := range []string{e.ID, e.DeviceDescription, e.InterfaceFriendlyName, e.HostDeviceDescription} {
		if strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// SortForDisplay orders endpoints by role (playback first), active before
// inactive, then by display name. The input slice is not modified.
func SortForDisplay(endpoints []model.EndpointSnapshot) []model.EndpointSnapshot {
	result := make([]model.EndpointSnapshot, len(endpoints))
	copy(result, endpoints)

	sort.SliceStable(result, func(i, j int) bool {
		a, b := &result[i], &result[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.IsActive() != b.IsActive() {
			return a.IsActive()
		}
		return strings.ToLower(a.DisplayName()) < strings.ToLower(b.DisplayName())
	})

	return result
}

// LookupByID finds an endpoint by id. Returns nil if not found.
func LookupByID(endpoints []model.EndpointSnapshot, id string) *model.EndpointSnapshot {
	for i := range endpoints {
		if endpoints[i].ID == id {
			return &endpoints[i]
		}
	}
	return nil
}
