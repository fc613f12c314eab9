package core

import "github.com/jmylchreest/audioprio/internal/model"

// Candidate is one endpoint of the descriptor's role and why it does or
// does not match.
type Candidate struct {
	Endpoint   model.EndpointSnapshot `json:"endpoint" yaml:"endpoint"`
	Mismatches model.IdentityFlags    `json:"mismatches" yaml:"mismatches"`
	Inactive   bool                   `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// Matches reports whether the candidate would be accepted.
func (c *Candidate) Matches() bool {
	return !c.Inactive && c.Mismatches == model.FlagsNone
}

// Report explains how a descriptor resolves against a snapshot.
type Report struct {
	Descriptor model.Descriptor        `json:"descriptor" yaml:"descriptor"`
	Flags      model.IdentityFlags     `json:"flags" yaml:"flags"`
	Match      *model.EndpointSnapshot `json:"match,omitempty" yaml:"match,omitempty"`
	Candidates []Candidate             `json:"candidates" yaml:"candidates"`
}

// Diagnose evaluates d against every endpoint of its role.
func Diagnose(d *model.Descriptor, endpoints []model.EndpointSnapshot) Report {
	r := Report{
		Descriptor: *d,
		Flags:      FlagsFor(d),
		Candidates: []Candidate{},
	}
	if e, ok := Match(d, endpoints); ok {
		r.Match = &e
	}
	for i := range endpoints {
		e := &endpoints[i]
		if e.Role != d.Role {
			continue
		}
		r.Candidates = append(r.Candidates, Candidate{
			Endpoint:   *e,
			Mismatches: Mismatches(d, e),
			Inactive:   !e.IsActive(),
		})
	}
	return r
}
