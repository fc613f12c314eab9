package output

import (
	"fmt"
	"io"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// IDsFormatter outputs just ids, one per line.
// Useful for piping to other commands (e.g., audioprio priority add).
type IDsFormatter struct{}

// NewIDsFormatter creates a new IDs formatter.
func NewIDsFormatter() *IDsFormatter {
	return &IDsFormatter{}
}

func writeLines(w io.Writer, ids []string) error {
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

// Endpoints writes endpoint ids.
func (f *IDsFormatter) Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error {
	ids := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		ids = append(ids, e.ID)
	}
	return writeLines(w, ids)
}

// Lists writes descriptor ids in priority order. Aliased lists are skipped
// so each id appears once per list.
func (f *IDsFormatter) Lists(w io.Writer, lists []SlotList) error {
	var ids []string
	for _, l := range lists {
		if l.Shared != "" {
			continue
		}
		for _, d := range l.Descriptors {
			ids = append(ids, d.ID)
		}
	}
	return writeLines(w, ids)
}

// Match writes the id of the matched endpoint, if any.
func (f *IDsFormatter) Match(w io.Writer, report core.Report) error {
	if report.Match == nil {
		return nil
	}
	return writeLines(w, []string{report.Match.ID})
}

// Pass writes the endpoint ids that became default.
func (f *IDsFormatter) Pass(w io.Writer, result assign.PassResult) error {
	var ids []string
	for _, r := range result.Slots {
		if r.Outcome == assign.OutcomeChanged {
			ids = append(ids, r.EndpointID)
		}
	}
	return writeLines(w, ids)
}

// Status is not supported.
func (f *IDsFormatter) Status(io.Writer, *store.Status) error {
	return ErrUnsupported
}

// History writes pass ids, oldest first.
func (f *IDsFormatter) History(w io.Writer, records []store.PassRecord) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return writeLines(w, ids)
}
