package audiodev

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/interview-live-go/pkg/live"
)

// captureFrameMs is the PortAudio callback period.
const captureFrameMs = 20

// PortAudioDevice is a live.CaptureDevice backed by PortAudio. Index -1
// selects the system default input.
type PortAudioDevice struct {
	index int
}

func NewPortAudioDevice(deviceIndex int) *PortAudioDevice {
	return &PortAudioDevice{index: deviceIndex}
}

// Open initializes PortAudio, resolves the device and opens (but does not
// start) an int16 input stream in format.
func (d *PortAudioDevice) Open(ctx context.Context, format live.AudioFormat) (live.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: portaudio capture is 16-bit only", live.ErrConstraintsNotSatisfiable)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, mapPortAudioError(err)
	}

	info, err := d.resolve()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if info.MaxInputChannels < format.Channels {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %s has %d input channels", live.ErrConstraintsNotSatisfiable, info.Name, info.MaxInputChannels)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.SampleRate * captureFrameMs / 1000

	s := &portAudioStream{format: format}
	s.pa, err = portaudio.OpenStream(params, s.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, mapPortAudioError(err)
	}
	return s, nil
}

func (d *PortAudioDevice) resolve() (*portaudio.DeviceInfo, error) {
	if d.index < 0 {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, mapPortAudioError(err)
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, mapPortAudioError(err)
	}
	if d.index >= len(infos) {
		return nil, fmt.Errorf("%w: index %d", live.ErrDeviceNotFound, d.index)
	}
	return infos[d.index], nil
}

type portAudioStream struct {
	format live.AudioFormat
	pa     *portaudio.Stream

	mu      sync.Mutex
	onData  func([]byte)
	started bool
	closed  bool
}

func (s *portAudioStream) Format() live.AudioFormat { return s.format }

func (s *portAudioStream) Start(onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("portaudio stream closed")
	}
	if s.started {
		return nil
	}
	s.onData = onData
	if err := s.pa.Start(); err != nil {
		return mapPortAudioError(err)
	}
	s.started = true
	return nil
}

// callback runs on the PortAudio thread.
func (s *portAudioStream) callback(in []int16) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn != nil {
		fn(live.Int16sToBytes(in))
	}
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.onData = nil
	s.mu.Unlock()

	var errs []error
	if started {
		errs = append(errs, s.pa.Stop())
	}
	errs = append(errs, s.pa.Close(), portaudio.Terminate())
	return errors.Join(errs...)
}

// mapPortAudioError wraps err with the capture sentinel it corresponds to.
func mapPortAudioError(err error) error {
	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return err
	}
	switch paErr {
	case portaudio.NoDefaultInputDevice, portaudio.InvalidDevice:
		return fmt.Errorf("%w: %v", live.ErrDeviceNotFound, err)
	case portaudio.DeviceUnavailable:
		return fmt.Errorf("%w: %v", live.ErrDeviceBusy, err)
	case portaudio.InvalidChannelCount, portaudio.InvalidSampleRate, portaudio.SampleFormatNotSupported:
		return fmt.Errorf("%w: %v", live.ErrConstraintsNotSatisfiable, err)
	case portaudio.NotInitialized, portaudio.HostApiNotFound, portaudio.InvalidHostApi:
		return fmt.Errorf("%w: %v", live.ErrUnsupported, err)
	default:
		return err
	}
}
