package daemon

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/jmylchreest/audioprio/internal/assign"
	"github.com/jmylchreest/audioprio/internal/dbus"
	"github.com/jmylchreest/audioprio/internal/model"
)

// NotificationLevel indicates the urgency/severity of a desktop notification.
type NotificationLevel int

const (
	// NotificationLevelInfo is for informational messages (low urgency).
	NotificationLevelInfo NotificationLevel = iota
	// NotificationLevelWarning is for warning messages (normal urgency).
	NotificationLevelWarning
	// NotificationLevelError is for error messages (critical urgency).
	NotificationLevelError
)

// DesktopNotifier tells the user about default changes and failures
// through the desktop notification daemon. Repeats of the same key within
// the minimum interval are dropped.
type DesktopNotifier struct {
	mu     sync.Mutex
	logger *slog.Logger

	send func(n *dbus.DesktopNotification) error

	lastNotifyTime map[string]time.Time
	minInterval    time.Duration
	now            func() time.Time

	enabled   bool
	onChange  bool
	onFailure bool
}

// NewDesktopNotifier creates a disabled notifier that sends through send.
func NewDesktopNotifier(send func(n *dbus.DesktopNotification) error, logger *slog.Logger) *DesktopNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopNotifier{
		logger:         logger,
		send:           send,
		lastNotifyTime: make(map[string]time.Time),
		minInterval:    5 * time.Second,
		now:            time.Now,
		onChange:       true,
		onFailure:      true,
	}
}

// Configure sets which notifications are sent and how often.
func (n *DesktopNotifier) Configure(enabled, onChange, onFailure bool, minInterval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
	n.onChange = onChange
	n.onFailure = onFailure
	n.minInterval = minInterval
}

// Notify sends a notification if not rate-limited.
func (n *DesktopNotifier) Notify(key, summary, body string, level NotificationLevel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifyLocked(key, summary, body, level)
}

func (n *DesktopNotifier) notifyLocked(key, summary, body string, level NotificationLevel) {
	if !n.enabled {
		return
	}
	if n.send == nil {
		n.logger.Debug("desktop notification skipped: no sender", "summary", summary)
		return
	}

	now := n.now()
	if lastTime, ok := n.lastNotifyTime[key]; ok && now.Sub(lastTime) < n.minInterval {
		n.logger.Debug("desktop notification rate-limited", "key", key, "summary", summary)
		return
	}
	n.lastNotifyTime[key] = now

	urgency := dbus.UrgencyNormal
	icon := "dialog-warning"
	switch level {
	case NotificationLevelInfo:
		urgency = dbus.UrgencyLow
		icon = "audio-card"
	case NotificationLevelError:
		urgency = dbus.UrgencyCritical
		icon = "dialog-error"
	}

	notification := &dbus.DesktopNotification{
		AppName: "audioprio",
		AppIcon: icon,
		Summary: summary,
		Body:    body,
		Hints: map[string]godbus.Variant{
			"urgency":       godbus.MakeVariant(urgency),
			"category":      godbus.MakeVariant("device"),
			"transient":     godbus.MakeVariant(true),
			"desktop-entry": godbus.MakeVariant("audioprio"),
		},
		ExpireTimeout: 5000,
	}

	n.logger.Debug("sending desktop notification", "key", key, "summary", summary, "level", level)
	if err := n.send(notification); err != nil {
		n.logger.Warn("failed to send desktop notification", "error", err)
	}
}

// NotifyPass reports the slots a pass changed or failed to change.
func (n *DesktopNotifier) NotifyPass(result assign.PassResult) {
	if result.DryRun {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, r := range result.Slots {
		switch {
		case r.Outcome == assign.OutcomeChanged && n.onChange:
			n.notifyLocked("changed-"+r.Slot.String(),
				slotTitle(r.Slot)+" changed",
				r.DescriptorName,
				NotificationLevelInfo)
		case r.Outcome == assign.OutcomeFailed && n.onFailure:
			body := r.DescriptorName
			if r.Err != nil {
				body = strings.TrimSpace(body + "\n" + r.Err.Error())
			}
			n.notifyLocked("failed-"+r.Slot.String(),
				"Could not change "+strings.ToLower(slotTitle(r.Slot)),
				body,
				NotificationLevelWarning)
		}
	}
}

// NotifyConfigReloaded sends a notification about config being reloaded.
func (n *DesktopNotifier) NotifyConfigReloaded() {
	n.Notify(
		"config-reload",
		"Configuration Reloaded",
		"audioprio configuration has been successfully reloaded.",
		NotificationLevelInfo,
	)
}

// NotifyConfigError sends a notification about config validation error.
func (n *DesktopNotifier) NotifyConfigError(err error) {
	n.Notify(
		"config-error",
		"Configuration Error",
		"Failed to reload configuration: "+err.Error(),
		NotificationLevelWarning,
	)
}

// NotifyChimeError sends a notification about chime playback error.
func (n *DesktopNotifier) NotifyChimeError(err error) {
	n.Notify(
		"chime-error",
		"Chime Error",
		"Failed to play confirmation sound: "+err.Error(),
		NotificationLevelWarning,
	)
}

func slotTitle(slot model.Slot) string {
	name := "Default output"
	if slot.Role == model.RoleCapture {
		name = "Default input"
	}
	if slot.Comms {
		name = fmt.Sprintf("%s (communications)", name)
	}
	return name
}
