// Package pulse implements the audio system on top of a PulseAudio or
// PipeWire-pulse server.
package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/jmylchreest/audioprio/internal/model"
	"github.com/jmylchreest/audioprio/internal/system"
)

const (
	applicationName = "audioprio"
	applicationIcon = "audio-card"
)

// Backend is a system.AudioSystem backed by the pulse protocol. The
// connection is opened on first use and re-opened after a failed request.
// The server has no communications default, so comms slots are reported as
// unsupported.
type Backend struct {
	mu     sync.Mutex
	client *pulse.Client
	logger *slog.Logger
}

// New creates a Backend. No connection is made until the first call.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger}
}

// Close releases the server connection.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnect()
}

// SupportsCommunications implements system.CommsCapability.
func (b *Backend) SupportsCommunications() bool {
	return false
}

// EnumerateEndpoints implements system.AudioSystem. Sinks are playback
// endpoints, non-monitor sources are capture endpoints.
func (b *Backend) EnumerateEndpoints(ctx context.Context, role model.Role) ([]model.EndpointSnapshot, error) {
	devices, err := b.devices(ctx, role)
	if err != nil {
		return nil, err
	}
	return toSnapshots(role, devices), nil
}

// GetDefault implements system.AudioSystem.
func (b *Backend) GetDefault(ctx context.Context, slot model.Slot) (string, error) {
	if slot.Comms {
		return "", system.ErrUnsupportedSlot
	}

	var info pulseproto.GetServerInfoReply
	if err := b.request(ctx, &pulseproto.GetServerInfo{}, &info); err != nil {
		return "", fmt.Errorf("read server info: %w", err)
	}

	if slot.Role == model.RoleCapture {
		return info.DefaultSourceName, nil
	}
	return info.DefaultSinkName, nil
}

// SetDefault implements system.AudioSystem. The id is checked against the
// current device list first since the server accepts unknown names.
func (b *Backend) SetDefault(ctx context.Context, slot model.Slot, endpointID string) error {
	if slot.Comms {
		return system.ErrUnsupportedSlot
	}

	devices, err := b.devices(ctx, slot.Role)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(devices, func(d device) bool { return d.Name == endpointID && !d.isMonitor() }) {
		return fmt.Errorf("%w: %s", system.ErrEndpointNotFound, endpointID)
	}

	var req pulseproto.RequestArgs
	if slot.Role == model.RoleCapture {
		req = &pulseproto.SetDefaultSource{SourceName: endpointID}
	} else {
		req = &pulseproto.SetDefaultSink{SinkName: endpointID}
	}

	if err := b.request(ctx, req, nil); err != nil {
		return fmt.Errorf("set default %s to %s: %w", slot, endpointID, err)
	}

	b.logger.Debug("default set", "slot", slot, "endpoint", endpointID)
	return nil
}

func (b *Backend) devices(ctx context.Context, role model.Role) ([]device, error) {
	if role == model.RoleCapture {
		var reply pulseproto.GetSourceInfoListReply
		if err := b.request(ctx, &pulseproto.GetSourceInfoList{}, &reply); err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		devices := make([]device, 0, len(reply))
		for _, src := range reply {
			if src == nil {
				continue
			}
			d := device{
				Name:        src.SourceName,
				Description: src.Device,
				ActivePort:  src.ActivePortName,
				Props:       propMap(src.Properties),
			}
			for _, p := range src.Ports {
				d.Ports = append(d.Ports, port{Name: p.Name, Available: uint32(p.Available)})
			}
			devices = append(devices, d)
		}
		return devices, nil
	}

	var reply pulseproto.GetSinkInfoListReply
	if err := b.request(ctx, &pulseproto.GetSinkInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	devices := make([]device, 0, len(reply))
	for _, sink := range reply {
		if sink == nil {
			continue
		}
		d := device{
			Name:        sink.SinkName,
			Description: sink.Device,
			ActivePort:  sink.ActivePortName,
			Props:       propMap(sink.Properties),
		}
		for _, p := range sink.Ports {
			d.Ports = append(d.Ports, port{Name: p.Name, Available: uint32(p.Available)})
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// request sends one protocol request, connecting first if needed. Any
// failure drops the connection so the next call starts fresh.
func (b *Backend) request(ctx context.Context, req pulseproto.RequestArgs, reply pulseproto.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		client, err := pulse.NewClient(
			pulse.ClientApplicationName(applicationName),
			pulse.ClientApplicationIconName(applicationIcon),
		)
		if err != nil {
			return fmt.Errorf("connect pulse server: %w", err)
		}
		b.client = client
		b.logger.Debug("connected to pulse server")
	}

	if err := b.client.RawRequest(req, reply); err != nil {
		b.logger.Debug("pulse request failed, dropping connection", "error", err)
		b.disconnect()
		return err
	}
	return nil
}

func (b *Backend) disconnect() {
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

func propMap(props pulseproto.PropList) map[string]string {
	result := make(map[string]string, len(props))
	for k, v := range props {
		result[k] = v.String()
	}
	return result
}
