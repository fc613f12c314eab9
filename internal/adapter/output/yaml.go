package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// YAMLFormatter formats values as YAML documents.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) encode(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// Endpoints writes endpoints as a YAML sequence.
func (f *YAMLFormatter) Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error {
	if endpoints == nil {
		endpoints = []model.EndpointSnapshot{}
	}
	return f.encode(w, endpoints)
}

// Lists writes the priority lists.
func (f *YAMLFormatter) Lists(w io.Writer, lists []SlotList) error {
	return f.encode(w, newListViews(lists))
}

// Match writes a match report.
func (f *YAMLFormatter) Match(w io.Writer, report core.Report) error {
	return f.encode(w, report)
}

// Pass writes a pass result.
func (f *YAMLFormatter) Pass(w io.Writer, result assign.PassResult) error {
	return f.encode(w, newPassView(result))
}

// Status writes the daemon status.
func (f *YAMLFormatter) Status(w io.Writer, status *store.Status) error {
	return f.encode(w, status)
}

// History writes pass records.
func (f *YAMLFormatter) History(w io.Writer, records []store.PassRecord) error {
	if records == nil {
		records = []store.PassRecord{}
	}
	return f.encode(w, records)
}
