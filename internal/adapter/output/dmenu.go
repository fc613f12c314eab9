package output

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// DmenuFormatter formats endpoints and lists one entry per line for
// dmenu/rofi/fuzzel pickers. The id is always the last field so scripts can
// cut it out of the selection.
type DmenuFormatter struct {
	opts     FormatterOptions
	template *template.Template
	plain    *PlainFormatter
}

// NewDmenuFormatter creates a new dmenu formatter.
func NewDmenuFormatter(opts FormatterOptions) *DmenuFormatter {
	f := &DmenuFormatter{opts: opts}
	if opts.Template != "" {
		tmpl, err := template.New("dmenu").Funcs(templateFuncs()).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}
	plainOpts := opts
	plainOpts.Color = false
	f.plain = NewPlainFormatter(plainOpts)
	return f
}

func (f *DmenuFormatter) separator() string {
	if f.opts.Separator == "" {
		return " | "
	}
	return f.opts.Separator
}

// Endpoints writes one line per endpoint.
func (f *DmenuFormatter) Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error {
	for i := range endpoints {
		e := &endpoints[i]
		line := f.endpointLine(i+1, e)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (f *DmenuFormatter) endpointLine(index int, e *model.EndpointSnapshot) string {
	if f.template != nil {
		var buf strings.Builder
		data := templateData{Index: index, Endpoint: e, Name: e.DisplayName()}
		if err := f.template.Execute(&buf, data); err == nil {
			return buf.String()
		}
	}
	parts := []string{e.Role.String(), e.State.String(), truncate(e.DisplayName(), f.opts.MaxWidth)}
	if e.FormFactor != model.FormFactorUnknown {
		parts = append(parts, string(e.FormFactor))
	}
	parts = append(parts, e.ID)
	return strings.Join(parts, f.separator())
}

// Lists writes one line per descriptor across every list that is not an
// alias of another.
func (f *DmenuFormatter) Lists(w io.Writer, lists []SlotList) error {
	for _, l := range lists {
		if l.Shared != "" {
			continue
		}
		for i, d := range l.Descriptors {
			parts := []string{l.Slot.String(), fmt.Sprintf("%d", i+1), truncate(d.Name, f.opts.MaxWidth)}
			if !d.Enabled {
				parts = append(parts, "disabled")
			}
			parts = append(parts, d.ID)
			if _, err := fmt.Fprintln(w, strings.Join(parts, f.separator())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Match writes the report as uncolored plain text.
func (f *DmenuFormatter) Match(w io.Writer, report core.Report) error {
	return f.plain.Match(w, report)
}

// Pass writes the result as uncolored plain text.
func (f *DmenuFormatter) Pass(w io.Writer, result assign.PassResult) error {
	return f.plain.Pass(w, result)
}

// Status writes the status as uncolored plain text.
func (f *DmenuFormatter) Status(w io.Writer, status *store.Status) error {
	return f.plain.Status(w, status)
}

// History writes one line per pass.
func (f *DmenuFormatter) History(w io.Writer, records []store.PassRecord) error {
	now := f.opts.Now
	for _, r := range records {
		parts := []string{f.plain.relTime(r.Time(), now()), fmt.Sprintf("%d changed", r.Changed), fmt.Sprintf("%d failed", r.Failed), r.ID}
		if _, err := fmt.Fprintln(w, strings.Join(parts, f.separator())); err != nil {
			return err
		}
	}
	return nil
}

// templateData provides data for custom endpoint templates.
type templateData struct {
	Index    int
	Endpoint *model.EndpointSnapshot
	Name     string
}

// templateFuncs returns template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"truncate": truncate,
		"stateIcon": func(s model.EndpointState) string {
			if s == model.StateActive {
				return "●"
			}
			return "○"
		},
	}
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
