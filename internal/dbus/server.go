package dbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/jmylchreest/audioprio/internal/store"
)

// Controller is what the control server drives.
type Controller interface {
	RequestRefresh()
	RequestAssignDefaults()
	Status() *store.Status
}

// ControlServer exports the daemon's control interface on the session bus.
type ControlServer struct {
	mu      sync.RWMutex
	conn    *dbus.Conn
	logger  *slog.Logger
	ctrl    Controller
	running bool
}

// NewControlServer creates a new ControlServer.
func NewControlServer(ctrl Controller, logger *slog.Logger) *ControlServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlServer{ctrl: ctrl, logger: logger}
}

// Start connects to the session bus and exports the control object.
func (s *ControlServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.ExportMethodTable(map[string]any{
		"Refresh": s.Refresh,
		"Apply":   s.Apply,
		"Status":  s.Status,
	}, ControlPath, ControlInterface); err != nil {
		return fmt.Errorf("failed to export object: %w", err)
	}

	node := &introspect.Node{
		Name: ControlPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    ControlInterface,
				Methods: controlMethods(),
				Signals: controlSignals(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ControlPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ControlBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken, is another daemon running?", ControlBusName)
	}

	s.conn = conn
	s.running = true
	s.logger.Info("D-Bus control server started", "interface", ControlInterface, "path", ControlPath)
	return nil
}

// Stop releases the bus name and unexports the object.
func (s *ControlServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if _, err := s.conn.ReleaseName(ControlBusName); err != nil {
		s.logger.Warn("failed to release bus name", "error", err)
	}
	_ = s.conn.Export(nil, ControlPath, ControlInterface)
	_ = s.conn.Export(nil, ControlPath, "org.freedesktop.DBus.Introspectable")
	// The connection is the shared session bus; leave it open.

	s.logger.Info("D-Bus control server stopped")
	return nil
}

// Refresh requests an endpoint refresh.
// D-Bus method: Refresh() -> nothing
func (s *ControlServer) Refresh() *dbus.Error {
	s.logger.Debug("Refresh called")
	s.ctrl.RequestRefresh()
	return nil
}

// Apply requests an assignment pass.
// D-Bus method: Apply() -> nothing
func (s *ControlServer) Apply() *dbus.Error {
	s.logger.Debug("Apply called")
	s.ctrl.RequestAssignDefaults()
	return nil
}

// Status returns the daemon status as JSON.
// D-Bus method: Status() -> s
func (s *ControlServer) Status() (string, *dbus.Error) {
	data, err := json.Marshal(s.ctrl.Status())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

// EmitPassCompleted emits PassCompleted with the pass record as JSON.
func (s *ControlServer) EmitPassCompleted(rec store.PassRecord) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected to D-Bus")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal pass: %w", err)
	}
	if err := conn.Emit(ControlPath, ControlInterface+".PassCompleted", string(data)); err != nil {
		return fmt.Errorf("failed to emit PassCompleted signal: %w", err)
	}

	s.logger.Debug("emitted PassCompleted signal", "pass", rec.ID)
	return nil
}

func controlMethods() []introspect.Method {
	return []introspect.Method{
		{Name: "Refresh"},
		{Name: "Apply"},
		{
			Name: "Status",
			Args: []introspect.Arg{
				{Name: "status", Type: "s", Direction: "out"},
			},
		},
	}
}

func controlSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: "PassCompleted",
			Args: []introspect.Arg{
				{Name: "pass", Type: "s"},
			},
		},
	}
}
