package pulse

import (
	"strings"

	"github.com/jmylchreest/audioprio/internal/model"
)

// Port availability values reported by the server.
const (
	portAvailableUnknown uint32 = 0
	portAvailableNo      uint32 = 1
	portAvailableYes     uint32 = 2
)

// Property keys read from sink and source property lists.
const (
	propDeviceClass  = "device.class"
	propFormFactor   = "device.form_factor"
	propBusPath      = "device.bus_path"
	propIconName     = "device.icon_name"
	propCardName     = "alsa.card_name"
	propProductName  = "device.product.name"
	propDescription  = "device.description"
	deviceClassMonit = "monitor"
)

// port is the subset of a sink or source port used here.
type port struct {
	Name      string
	Available uint32
}

// device is a sink or source with the protocol types flattened away.
type device struct {
	Name        string
	Description string
	ActivePort  string
	Ports       []port
	Props       map[string]string
}

// isMonitor reports whether the device is the monitor source of a sink.
func (d *device) isMonitor() bool {
	return d.Props[propDeviceClass] == deviceClassMonit
}

// state derives the endpoint state from port availability. A device whose
// active port is known to be unplugged is Unplugged. Devices without ports
// are Active.
func (d *device) state() model.EndpointState {
	for _, p := range d.Ports {
		if p.Name != d.ActivePort {
			continue
		}
		if p.Available == portAvailableNo {
			return model.StateUnplugged
		}
		return model.StateActive
	}
	return model.StateActive
}

func (d *device) snapshot(role model.Role) model.EndpointSnapshot {
	description := d.Description
	if description == "" {
		description = d.Props[propDescription]
	}
	return model.EndpointSnapshot{
		Role:                  role,
		ID:                    d.Name,
		State:                 d.state(),
		FormFactor:            formFactor(d.Props[propFormFactor]),
		JackSubType:           d.ActivePort,
		ContainerID:           d.Props[propBusPath],
		DeviceDescription:     description,
		IconPath:              d.Props[propIconName],
		InterfaceFriendlyName: d.Props[propCardName],
		HostDeviceDescription: d.Props[propProductName],
	}
}

// formFactor maps the server's form factor names onto ours. Unknown names
// are carried through unchanged so they still take part in matching.
func formFactor(s string) model.FormFactor {
	switch strings.ToLower(s) {
	case "":
		return model.FormFactorUnknown
	case "internal", "speaker":
		return model.FormFactorSpeakers
	case "handset":
		return model.FormFactorHandset
	case "headset":
		return model.FormFactorHeadset
	case "headphone":
		return model.FormFactorHeadphones
	case "microphone", "webcam":
		return model.FormFactorMicrophone
	case "hifi":
		return model.FormFactorLineLevel
	case "tv", "computer":
		return model.FormFactorDigitalDisplay
	case "car", "hands-free", "portable":
		return model.FormFactorRemoteNetwork
	default:
		return model.FormFactor(strings.ToLower(s))
	}
}

// toSnapshots converts devices of one role, skipping monitor sources.
func toSnapshots(role model.Role, devices []device) []model.EndpointSnapshot {
	result := make([]model.EndpointSnapshot, 0, len(devices))
	for i := range devices {
		if devices[i].Name == "" || devices[i].isMonitor() {
			continue
		}
		result = append(result, devices[i].snapshot(role))
	}
	return result
}
