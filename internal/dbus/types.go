// Package dbus connects audioprio to the session and system buses: the
// daemon's control interface, login1 resume signals and desktop
// notifications.
package dbus

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

const (
	// ControlInterface is the daemon control interface name.
	ControlInterface = "io.github.jmylchreest.audioprio1"
	// ControlPath is the daemon control object path.
	ControlPath = "/io/github/jmylchreest/audioprio"
	// ControlBusName is the bus name the daemon claims.
	ControlBusName = "io.github.jmylchreest.audioprio"

	// NotificationsInterface is the freedesktop notification interface.
	NotificationsInterface = "org.freedesktop.Notifications"
	// NotificationsPath is the freedesktop notification object path.
	NotificationsPath = "/org/freedesktop/Notifications"

	login1Manager = "org.freedesktop.login1.Manager"
	login1Path    = "/org/freedesktop/login1"
)

// ErrDaemonNotRunning is returned by the control client when nothing owns
// the control bus name.
var ErrDaemonNotRunning = errors.New("audioprio daemon is not running")

// Urgency levels from the freedesktop notification specification.
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// DesktopNotification holds the arguments of an
// org.freedesktop.Notifications.Notify call.
type DesktopNotification struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string // Alternating key, label pairs
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // -1 = server default, 0 = never expire
}

// args returns the Notify call arguments in wire order.
func (n *DesktopNotification) args() []any {
	actions := n.Actions
	if actions == nil {
		actions = []string{}
	}
	hints := n.Hints
	if hints == nil {
		hints = map[string]dbus.Variant{}
	}
	return []any{n.AppName, n.ReplacesID, n.AppIcon, n.Summary, n.Body, actions, hints, n.ExpireTimeout}
}

// Urgency extracts the urgency hint. Returns UrgencyNormal if not set.
func (n *DesktopNotification) Urgency() byte {
	if v, ok := n.Hints["urgency"]; ok {
		if b, ok := v.Value().(byte); ok {
			return b
		}
	}
	return UrgencyNormal
}

// Category extracts the category hint.
func (n *DesktopNotification) Category() string {
	if v, ok := n.Hints["category"]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// Transient returns true if the transient hint is set.
func (n *DesktopNotification) Transient() bool {
	if v, ok := n.Hints["transient"]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}
