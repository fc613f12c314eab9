package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/core"
	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/store"
)

// styles holds the lipgloss styles used by plain output.
type styles struct {
	header   lipgloss.Style
	active   lipgloss.Style
	inactive lipgloss.Style
	changed  lipgloss.Style
	failed   lipgloss.Style
	dim      lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:   lipgloss.NewStyle().Bold(true),
		active:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		inactive: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		changed:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// PlainFormatter formats values as human readable text.
type PlainFormatter struct {
	opts  FormatterOptions
	style styles
}

// NewPlainFormatter creates a new plain text formatter.
func NewPlainFormatter(opts FormatterOptions) *PlainFormatter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PlainFormatter{opts: opts, style: newStyles(opts.Color)}
}

// Endpoints writes one line per endpoint, with identity fields when verbose.
func (f *PlainFormatter) Endpoints(w io.Writer, endpoints []model.EndpointSnapshot) error {
	if len(endpoints) == 0 {
		_, err := fmt.Fprintln(w, f.style.dim.Render("no endpoints"))
		return err
	}
	for i := range endpoints {
		if err := f.endpoint(w, "", &endpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *PlainFormatter) endpoint(w io.Writer, prefix string, e *model.EndpointSnapshot) error {
	state := f.style.active
	if !e.IsActive() {
		state = f.style.inactive
	}
	line := fmt.Sprintf("%s%-8s %s %s", prefix, e.Role, state.Render(fmt.Sprintf("%-11s", e.State)), e.DisplayName())
	if e.FormFactor != model.FormFactorUnknown {
		line += f.style.dim.Render(" [" + string(e.FormFactor) + "]")
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	if !f.opts.Verbose {
		return nil
	}
	for _, field := range identityLines(e) {
		if _, err := fmt.Fprintf(w, "%s    %s\n", prefix, f.style.dim.Render(field)); err != nil {
			return err
		}
	}
	return nil
}

// identityLines lists the non-empty identity fields of an endpoint.
func identityLines(e *model.EndpointSnapshot) []string {
	fields := []struct{ name, value string }{
		{"id", e.ID},
		{"jack_subtype", e.JackSubType},
		{"container_id", e.ContainerID},
		{"description", e.DeviceDescription},
		{"icon_path", e.IconPath},
		{"interface_name", e.InterfaceFriendlyName},
		{"host_description", e.HostDeviceDescription},
	}
	var lines []string
	for _, fv := range fields {
		if fv.value != "" {
			lines = append(lines, fv.name+": "+fv.value)
		}
	}
	return lines
}

// Lists writes each slot's list in priority order.
func (f *PlainFormatter) Lists(w io.Writer, lists []SlotList) error {
	for i, l := range lists {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		title := l.Slot.String()
		if l.Shared != "" {
			title += f.style.dim.Render(" (same as " + l.Shared + ")")
		}
		if _, err := fmt.Fprintln(w, f.style.header.Render(title)); err != nil {
			return err
		}
		if l.Shared != "" {
			continue
		}
		if len(l.Descriptors) == 0 {
			if _, err := fmt.Fprintln(w, f.style.dim.Render("  (empty)")); err != nil {
				return err
			}
			continue
		}
		for j, d := range l.Descriptors {
			if err := f.descriptor(w, j+1, &d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *PlainFormatter) descriptor(w io.Writer, index int, d *model.Descriptor) error {
	name := d.Name
	if !d.Enabled {
		name = f.style.inactive.Render(name + " (disabled)")
	}
	line := fmt.Sprintf("  %2d. %s %s", index, name, f.style.dim.Render(d.Method.String()))
	if d.Method == model.MethodCustom {
		line += f.style.dim.Render(" " + d.CustomFlags.String())
	}
	if f.opts.Verbose {
		line += f.style.dim.Render("  " + d.ID)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// Match writes the match report for one descriptor.
func (f *PlainFormatter) Match(w io.Writer, report core.Report) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", f.style.header.Render(report.Descriptor.Name), f.style.dim.Render("("+report.Descriptor.ID+")"))
	fmt.Fprintf(&sb, "  role: %s  method: %s  flags: %s\n", report.Descriptor.Role, report.Descriptor.Method, report.Flags)
	if !report.Descriptor.Enabled {
		sb.WriteString(f.style.inactive.Render("  disabled, never matches") + "\n")
	}
	if report.Match != nil {
		fmt.Fprintf(&sb, "  match: %s\n", f.style.active.Render(report.Match.DisplayName()+" ("+report.Match.ID+")"))
	} else {
		sb.WriteString("  match: " + f.style.failed.Render("none") + "\n")
	}
	for _, c := range report.Candidates {
		mark := f.style.active.Render("✓")
		reason := ""
		switch {
		case c.Inactive:
			mark = f.style.inactive.Render("-")
			reason = c.Endpoint.State.String()
		case !c.Matches():
			mark = f.style.failed.Render("✗")
			reason = "differs: " + c.Mismatches.String()
		}
		fmt.Fprintf(&sb, "    %s %s", mark, c.Endpoint.DisplayName())
		if reason != "" {
			sb.WriteString(f.style.dim.Render("  " + reason))
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Pass writes one line per slot.
func (f *PlainFormatter) Pass(w io.Writer, result assign.PassResult) error {
	if result.DryRun {
		if _, err := fmt.Fprintln(w, f.style.dim.Render("dry run, nothing was changed")); err != nil {
			return err
		}
	}
	for _, r := range result.Slots {
		if _, err := fmt.Fprintln(w, f.slotLine(r.Slot.String(), r.Outcome.String(), r.DescriptorName, r.Previous, errString(r.Err))); err != nil {
			return err
		}
	}
	if result.RefreshWanted {
		_, err := fmt.Fprintln(w, f.style.dim.Render("endpoint cache was stale, refresh requested"))
		return err
	}
	return nil
}

func (f *PlainFormatter) slotLine(slot, outcome, name, previous, errText string) string {
	style := f.style.dim
	switch outcome {
	case assign.OutcomeChanged.String():
		style = f.style.changed
	case assign.OutcomeFailed.String():
		style = f.style.failed
	case assign.OutcomeUnchanged.String():
		style = f.style.active
	}
	line := fmt.Sprintf("%-16s %s", slot, style.Render(fmt.Sprintf("%-11s", outcome)))
	if name != "" {
		line += " " + name
	}
	if previous != "" && outcome == assign.OutcomeChanged.String() {
		line += f.style.dim.Render(" (was " + previous + ")")
	}
	if errText != "" {
		line += " " + f.style.failed.Render(errText)
	}
	return line
}

// Status writes the daemon status.
func (f *PlainFormatter) Status(w io.Writer, status *store.Status) error {
	now := f.opts.Now()
	var sb strings.Builder
	if status.PID == 0 {
		sb.WriteString(f.style.inactive.Render("daemon: not running") + "\n")
	} else {
		fmt.Fprintf(&sb, "daemon:    %s (pid %d, %s backend)\n", f.style.active.Render("running"), status.PID, status.Backend)
	}
	if status.StartedAt > 0 {
		fmt.Fprintf(&sb, "started:   %s\n", f.relTime(time.Unix(status.StartedAt, 0), now))
	}
	if !status.LastRefresh().IsZero() {
		fmt.Fprintf(&sb, "refreshed: %s (%d endpoints)\n", f.relTime(status.LastRefresh(), now), status.EndpointCount)
	}
	if status.LastRefreshError != "" {
		fmt.Fprintf(&sb, "           %s\n", f.style.failed.Render(status.LastRefreshError))
	}
	mode := "shared with primary lists"
	if status.SeparateComms {
		mode = "separate lists"
	}
	fmt.Fprintf(&sb, "comms:     %s\n", mode)
	if status.LastPass != nil {
		fmt.Fprintf(&sb, "last pass: %s, %d changed, %d failed\n",
			f.relTime(status.LastPass.Time(), now), status.LastPass.Changed, status.LastPass.Failed)
		for _, s := range status.LastPass.Slots {
			sb.WriteString("  " + f.slotLine(s.Slot, s.Outcome, s.DescriptorName, "", s.Error) + "\n")
		}
	}
	fmt.Fprintf(&sb, "scheduler: %s executed, %s coalesced, %s superseded\n",
		humanize.Comma(int64(status.Scheduler.Executed)),
		humanize.Comma(int64(status.Scheduler.Coalesced)),
		humanize.Comma(int64(status.Scheduler.Superseded)))
	_, err := io.WriteString(w, sb.String())
	return err
}

// History writes one summary line per pass followed by its changed or
// failed slots.
func (f *PlainFormatter) History(w io.Writer, records []store.PassRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, f.style.dim.Render("no passes recorded"))
		return err
	}
	now := f.opts.Now()
	for _, r := range records {
		summary := fmt.Sprintf("%s  %d changed, %d failed, %dms", f.relTime(r.Time(), now), r.Changed, r.Failed, r.DurationMS)
		if f.opts.Verbose {
			summary += f.style.dim.Render("  " + r.ID)
		}
		if _, err := fmt.Fprintln(w, f.style.header.Render(summary)); err != nil {
			return err
		}
		for _, s := range r.Slots {
			if !f.opts.Verbose && s.Outcome != assign.OutcomeChanged.String() && s.Outcome != assign.OutcomeFailed.String() {
				continue
			}
			if _, err := fmt.Fprintln(w, "  "+f.slotLine(s.Slot, s.Outcome, s.DescriptorName, "", s.Error)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *PlainFormatter) relTime(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
