package audiodev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rojolang/interview-live-go/pkg/live"
)

// PulseDevice is a live.CaptureDevice recording from a PulseAudio source.
// An empty source name records from the server default.
type PulseDevice struct {
	source string
}

func NewPulseDevice(source string) *PulseDevice {
	return &PulseDevice{source: source}
}

func (d *PulseDevice) Open(ctx context.Context, format live.AudioFormat) (live.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.BitsPerSample != 16 || format.Channels != 1 {
		return nil, fmt.Errorf("%w: pulse capture is 16-bit mono, got %s", live.ErrConstraintsNotSatisfiable, format)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", live.ErrUnsupported, err)
	}

	var source *pulse.Source
	if d.source == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(d.source)
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve source %q: %v", live.ErrDeviceNotFound, d.source, err)
	}

	return &pulseStream{format: format, client: client, source: source}, nil
}

type pulseStream struct {
	format live.AudioFormat
	client *pulse.Client
	source *pulse.Source

	mu      sync.Mutex
	stream  *pulse.RecordStream
	onData  func([]byte)
	stopped bool
}

func (s *pulseStream) Format() live.AudioFormat { return s.format }

func (s *pulseStream) Start(onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("pulse stream closed")
	}
	if s.stream != nil {
		return nil
	}
	s.onData = onData

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := s.client.NewRecord(
		writer,
		pulse.RecordSource(s.source),
		pulse.RecordMono,
		pulse.RecordSampleRate(s.format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(s.format.SampleRate*captureFrameMs/1000*2)),
		pulse.RecordMediaName("interview microphone"),
	)
	if err != nil {
		return fmt.Errorf("create pulse record stream: %w", err)
	}
	s.stream = stream
	stream.Start()
	return nil
}

func (s *pulseStream) onPCM(buf []byte) (int, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	fn := s.onData
	s.mu.Unlock()

	if fn != nil && len(buf) > 0 {
		fn(append([]byte(nil), buf...))
	}
	return len(buf), nil
}

// Close stops recording and disconnects. Safe to call more than once.
func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	stream := s.stream
	s.onData = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	s.client.Close()
	return nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
