// Package audiodev binds the live session client to real audio hardware:
// PortAudio and PulseAudio capture, a PortAudio speaker sink, device
// listing and an Opus chunk encoder.
package audiodev

import (
	"context"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	BackendPortAudio = "portaudio"
	BackendPulse     = "pulse"
)

// Device describes one audio endpoint. PortAudio devices are identified by
// index, Pulse sources by name.
type Device struct {
	ID                string
	Index             int
	Name              string
	Backend           string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	Default           bool
	Available         bool
	Muted             bool
	State             string
}

func (d Device) IsInput() bool  { return d.Backend == BackendPulse || d.MaxInputChannels > 0 }
func (d Device) IsOutput() bool { return d.MaxOutputChannels > 0 }

func (d Device) String() string {
	var caps []string
	if d.IsInput() {
		caps = append(caps, "in")
	}
	if d.IsOutput() {
		caps = append(caps, "out")
	}
	def := ""
	if d.Default {
		def = " (default)"
	}
	return fmt.Sprintf("[%s] %s%s %s", d.ID, d.Name, def, strings.Join(caps, "/"))
}

// ListDevices enumerates PortAudio devices.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list portaudio devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		hostAPI := "Unknown"
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		devices = append(devices, Device{
			ID:                fmt.Sprintf("%d", info.Index),
			Index:             info.Index,
			Name:              info.Name,
			Backend:           BackendPortAudio,
			HostAPI:           hostAPI,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           info == defaultIn || info == defaultOut,
			Available:         true,
		})
	}
	return devices, nil
}

// ListPulseSources enumerates PulseAudio input sources.
func ListPulseSources(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, source := range infos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:        source.SourceName,
			Index:     i,
			Name:      source.Device,
			Backend:   BackendPulse,
			Default:   source.SourceName == defaultID,
			Available: sourceAvailable(source),
			Muted:     source.Mute,
			State:     sourceStateString(source.State),
		})
	}
	return devices, nil
}

// List dispatches to the backend's enumerator.
func List(ctx context.Context, backend string) ([]Device, error) {
	switch backend {
	case BackendPortAudio, "":
		return ListDevices()
	case BackendPulse:
		return ListPulseSources(ctx)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}

// FindDevice returns the first device whose ID equals term or whose name
// contains it, case-insensitively. "" and "default" select the default.
func FindDevice(devices []Device, term string) (Device, error) {
	term = strings.TrimSpace(strings.ToLower(term))
	for _, d := range devices {
		if term == "" || term == "default" {
			if d.Default {
				return d, nil
			}
			continue
		}
		if strings.ToLower(d.ID) == term || strings.Contains(strings.ToLower(d.Name), term) {
			return d, nil
		}
	}
	if term == "" || term == "default" {
		return Device{}, fmt.Errorf("no default device")
	}
	return Device{}, fmt.Errorf("device %q did not match any device", term)
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("interview-live"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable reads the active port's availability. PulseAudio values:
// unknown=0, no=1, yes=2.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		return port.Available == 0 || port.Available == 2
	}
	return true
}
