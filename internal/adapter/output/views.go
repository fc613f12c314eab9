package output

import (
	"time"

	"github.com/jmylchreest/audioprio/internal/assign"
)

// passView is the structured form of a pass result.
type passView struct {
	StartedAt     time.Time  `json:"started_at" yaml:"started_at"`
	DurationMS    int64      `json:"duration_ms" yaml:"duration_ms"`
	DryRun        bool       `json:"dry_run" yaml:"dry_run"`
	RefreshWanted bool       `json:"refresh_wanted" yaml:"refresh_wanted"`
	Slots         []slotView `json:"slots" yaml:"slots"`
}

type slotView struct {
	Slot           string `json:"slot" yaml:"slot"`
	Outcome        string `json:"outcome" yaml:"outcome"`
	DescriptorID   string `json:"descriptor_id,omitempty" yaml:"descriptor_id,omitempty"`
	DescriptorName string `json:"descriptor_name,omitempty" yaml:"descriptor_name,omitempty"`
	EndpointID     string `json:"endpoint_id,omitempty" yaml:"endpoint_id,omitempty"`
	Previous       string `json:"previous,omitempty" yaml:"previous,omitempty"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newPassView(result assign.PassResult) passView {
	v := passView{
		StartedAt:     result.StartedAt,
		DurationMS:    result.Duration.Milliseconds(),
		DryRun:        result.DryRun,
		RefreshWanted: result.RefreshWanted,
		Slots:         make([]slotView, 0, len(result.Slots)),
	}
	for _, r := range result.Slots {
		sv := slotView{
			Slot:           r.Slot.String(),
			Outcome:        r.Outcome.String(),
			DescriptorID:   r.DescriptorID,
			DescriptorName: r.DescriptorName,
			EndpointID:     r.EndpointID,
			Previous:       r.Previous,
		}
		if r.Err != nil {
			sv.Error = r.Err.Error()
		}
		v.Slots = append(v.Slots, sv)
	}
	return v
}

// listView keys slots by name so structured output reads naturally.
type listView struct {
	Slot        string `json:"slot" yaml:"slot"`
	Shared      string `json:"shared_with,omitempty" yaml:"shared_with,omitempty"`
	Descriptors any    `json:"descriptors" yaml:"descriptors"`
}

func newListViews(lists []SlotList) []listView {
	views := make([]listView, 0, len(lists))
	for _, l := range lists {
		v := listView{Slot: l.Slot.String(), Shared: l.Shared, Descriptors: l.Descriptors}
		if l.Descriptors == nil {
			v.Descriptors = []any{}
		}
		views = append(views, v)
	}
	return views
}
