package dbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// SleepMonitor watches logind's PrepareForSleep signal on the system bus
// and calls the resume handler after the machine wakes. Audio devices are
// often re-enumerated across suspend without a usable change notification.
type SleepMonitor struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	logger *slog.Logger

	onResume func()

	signals chan *dbus.Signal
	doneCh  chan struct{}
	running bool
}

// NewSleepMonitor creates a new sleep monitor.
func NewSleepMonitor(logger *slog.Logger) *SleepMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepMonitor{logger: logger}
}

// SetResumeHandler sets the callback invoked after resume.
func (m *SleepMonitor) SetResumeHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResume = handler
}

// Start subscribes to PrepareForSleep.
func (m *SleepMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	m.conn = conn
	m.signals = make(chan *dbus.Signal, 10)
	m.doneCh = make(chan struct{})
	m.running = true
	conn.Signal(m.signals)

	go m.processSignals(m.signals, m.doneCh)

	m.logger.Info("sleep monitor started")
	return nil
}

func (m *SleepMonitor) processSignals(ch <-chan *dbus.Signal, done chan<- struct{}) {
	defer close(done)
	for sig := range ch {
		m.handleSignal(sig)
	}
}

// handleSignal calls the resume handler for PrepareForSleep(false).
func (m *SleepMonitor) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != login1Manager+".PrepareForSleep" {
		return
	}
	if len(sig.Body) < 1 {
		m.logger.Warn("malformed PrepareForSleep signal", "body_len", len(sig.Body))
		return
	}
	sleeping, ok := sig.Body[0].(bool)
	if !ok {
		m.logger.Warn("invalid PrepareForSleep argument type")
		return
	}

	if sleeping {
		m.logger.Debug("system going to sleep")
		return
	}

	m.logger.Info("system resumed")
	m.mu.Lock()
	handler := m.onResume
	m.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// Stop unsubscribes and waits for the signal loop to finish.
func (m *SleepMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	conn, signals, done := m.conn, m.signals, m.doneCh
	m.mu.Unlock()

	err := conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		m.logger.Warn("failed to remove match rule", "error", err)
	}
	conn.RemoveSignal(signals)
	close(signals)
	<-done

	m.logger.Debug("sleep monitor stopped")
	return nil
}
