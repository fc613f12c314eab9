// Package output provides output formatters for endpoints, priority lists,
// assignment passes and daemon status.
package output

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// ErrUnsupported is returned when a format cannot render a kind of value.
var ErrUnsupported = errors.New("output format does not support this value")

// Formatter renders each kind of value the CLI prints.
type Formatter interface {
	Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error
	Lists(w io.Writer, lists []SlotList) error
	Match(w io.Writer, report core.Report) error
	Pass(w io.Writer, result assign.PassResult) error
	Status(w io.Writer, status *store.Status) error
	History(w io.Writer, records []store.PassRecord) error
}

// SlotList is one slot's priority list.
type SlotList struct {
	Slot        model.Slot         `json:"slot" yaml:"slot"`
	Descriptors []model.Descriptor `json:"descriptors" yaml:"descriptors"`
	// Shared names the slot whose list this one aliases, if any.
	Shared string `json:"shared_with,omitempty" yaml:"shared_with,omitempty"`
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatPlain FormatType = "plain"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
	FormatDmenu FormatType = "dmenu"
	FormatIDs   FormatType = "ids"
)

// Formats lists the accepted format names.
var Formats = []FormatType{FormatPlain, FormatJSON, FormatYAML, FormatDmenu, FormatIDs}

// ParseFormat parses a format name.
func ParseFormat(s string) (FormatType, error) {
	f := FormatType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// FormatterOptions configures formatter behavior.
type FormatterOptions struct {
	Color     bool             // Style plain output with ANSI colors
	Verbose   bool             // Show identity fields and ids
	Separator string           // Field separator for dmenu format
	MaxWidth  int              // Truncate dmenu fields (0 = unlimited)
	Template  string           // Go template for dmenu endpoint lines
	Now       func() time.Time // Reference time for relative times
}

// DefaultFormatterOptions returns sensible defaults.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		Color:     true,
		Separator: " | ",
		MaxWidth:  60,
		Now:       time.Now,
	}
}

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) Formatter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	switch format {
	case FormatJSON:
		return NewJSONFormatter()
	case FormatYAML:
		return NewYAMLFormatter()
	case FormatDmenu:
		return NewDmenuFormatter(opts)
	case FormatIDs:
		return NewIDsFormatter()
	case FormatPlain:
		fallthrough
	default:
		return NewPlainFormatter(opts)
	}
}
