package dbus

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// NotificationSender delivers desktop notifications through whichever
// notification daemon owns org.freedesktop.Notifications on the session bus.
type NotificationSender struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewNotificationSender creates a sender. The bus is connected on first use.
func NewNotificationSender() *NotificationSender {
	return &NotificationSender{}
}

// Send delivers n and returns the id the notification daemon assigned.
func (s *NotificationSender) Send(n *DesktopNotification) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := dbus.SessionBus()
		if err != nil {
			return 0, fmt.Errorf("failed to connect to session bus: %w", err)
		}
		s.conn = conn
	}

	var id uint32
	obj := s.conn.Object(NotificationsInterface, NotificationsPath)
	if err := obj.Call(NotificationsInterface+".Notify", 0, n.args()...).Store(&id); err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	return id, nil
}
