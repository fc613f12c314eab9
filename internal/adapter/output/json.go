package output

import (
	"encoding/json"
	"io"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// JSONFormatter formats values as indented JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Endpoints writes endpoints as a JSON array.
func (f *JSONFormatter) Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error {
	if endpoints == nil {
		endpoints = []model.EndpointSnapshot{}
	}
	return f.encode(w, endpoints)
}

// Lists writes the priority lists.
func (f *JSONFormatter) Lists(w io.Writer, lists []SlotList) error {
	return f.encode(w, newListViews(lists))
}

// Match writes a match report.
func (f *JSONFormatter) Match(w io.Writer, report core.Report) error {
	return f.encode(w, report)
}

// Pass writes a pass result.
func (f *JSONFormatter) Pass(w io.Writer, result assign.PassResult) error {
	return f.encode(w, newPassView(result))
}

// Status writes the daemon status.
func (f *JSONFormatter) Status(w io.Writer, status *store.Status) error {
	return f.encode(w, status)
}

// History writes pass records.
func (f *JSONFormatter) History(w io.Writer, records []store.PassRecord) error {
	if records == nil {
		records = []store.PassRecord{}
	}
	return f.encode(w, records)
}
