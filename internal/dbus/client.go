package dbus

import (
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/audioprio/internal/store"
)

// ControlClient calls a running daemon's control interface.
type ControlClient struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewControlClient connects to the session bus and checks that the daemon
// owns its bus name.
func NewControlClient() (*ControlClient, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, ControlBusName).Store(&owned); err != nil {
		return nil, fmt.Errorf("failed to query bus name: %w", err)
	}
	if !owned {
		return nil, ErrDaemonNotRunning
	}

	return &ControlClient{
		conn: conn,
		obj:  conn.Object(ControlBusName, ControlPath),
	}, nil
}

// Refresh asks the daemon to refresh its endpoint cache.
func (c *ControlClient) Refresh() error {
	if err := c.obj.Call(ControlInterface+".Refresh", 0).Err; err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// Apply asks the daemon to run an assignment pass.
func (c *ControlClient) Apply() error {
	if err := c.obj.Call(ControlInterface+".Apply", 0).Err; err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

// Status fetches the daemon's live status.
func (c *ControlClient) Status() (*store.Status, error) {
	var data string
	if err := c.obj.Call(ControlInterface+".Status", 0).Store(&data); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var status store.Status
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
