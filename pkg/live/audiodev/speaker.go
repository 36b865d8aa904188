package audiodev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/interview-live-go/pkg/live"
)

const speakerFrameMs = 20

// Speaker is a live.AudioSink writing to a PortAudio output in blocking mode.
// The output stream is reopened only when the buffer format changes.
type Speaker struct {
	index int
	log   *live.Logger

	mu     sync.Mutex
	gen    uint64
	stream *portaudio.Stream
	format live.AudioFormat
	out    []int16
	inited bool

	// writeMu is held by the goroutine currently writing a buffer.
	writeMu sync.Mutex
}

// NewSpeaker returns a speaker on device index, or the default output for -1.
func NewSpeaker(deviceIndex int) *Speaker {
	return &Speaker{index: deviceIndex, log: live.NopLogger()}
}

// WithLogger sets the logger for write failures and returns s.
func (s *Speaker) WithLogger(l *live.Logger) *Speaker {
	if l != nil {
		s.log = l.WithComponent("speaker")
	}
	return s
}

// Play starts writing buf and returns. done fires once the last frame has
// been handed to the device, unless Stop intervenes.
func (s *Speaker) Play(buf live.AudioBuffer, done func()) error {
	if buf.Format.BitsPerSample != 16 {
		return fmt.Errorf("speaker plays 16-bit PCM, got %d-bit", buf.Format.BitsPerSample)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	samples := live.BytesToInt16s(buf.Data)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if err := s.write(gen, buf.Format, samples); err != nil && !errors.Is(err, errSuperseded) {
			s.log.WithError(err).Warn("Speaker write failed, skipping buffer")
		}
		if s.current(gen) {
			done()
		}
	}()
	return nil
}

var errSuperseded = errors.New("speaker buffer superseded")

func (s *Speaker) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Speaker) write(gen uint64, format live.AudioFormat, samples []int16) error {
	if err := s.ensureStream(format); err != nil {
		return err
	}
	frame := format.SampleRate * speakerFrameMs / 1000 * format.Channels
	for off := 0; off < len(samples); off += frame {
		if !s.current(gen) {
			return errSuperseded
		}
		end := off + frame
		if end > len(samples) {
			end = len(samples)
		}
		n := copy(s.out, samples[off:end])
		clear(s.out[n:])
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
	}
	return nil
}

// ensureStream is called with writeMu held.
func (s *Speaker) ensureStream(format live.AudioFormat) error {
	if s.stream != nil && s.format == format {
		return nil
	}
	s.closeStream()

	if !s.inited {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
		s.inited = true
	}

	info, err := s.resolve()
	if err != nil {
		return err
	}
	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.SampleRate * speakerFrameMs / 1000

	s.out = make([]int16, params.FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenStream(params, &s.out)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}
	s.stream = stream
	s.format = format
	return nil
}

func (s *Speaker) resolve() (*portaudio.DeviceInfo, error) {
	if s.index < 0 {
		return portaudio.DefaultOutputDevice()
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if s.index >= len(infos) {
		return nil, fmt.Errorf("output device index %d out of range", s.index)
	}
	return infos[s.index], nil
}

func (s *Speaker) closeStream() {
	if s.stream == nil {
		return
	}
	s.stream.Stop()
	s.stream.Close()
	s.stream = nil
}

// Stop abandons the buffer in flight. The output stream stays open for the
// next Play; Close releases it.
func (s *Speaker) Stop() error {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	return nil
}

// Close stops playback and releases PortAudio.
func (s *Speaker) Close() error {
	s.Stop()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.closeStream()
	if s.inited {
		s.inited = false
		return portaudio.Terminate()
	}
	return nil
}
