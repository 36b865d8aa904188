package live

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CaptureDevice grants access to an audio input. Open blocks until the
// platform grants or refuses access; refusals should wrap one of the
// ErrPermissionDenied family so they can be classified.
type CaptureDevice interface {
	Open(ctx context.Context, format AudioFormat) (CaptureStream, error)
}

// CaptureStream is an acquired input. Start delivers PCM in the stream's
// format until Close, which releases the hardware.
type CaptureStream interface {
	Format() AudioFormat
	Start(onData func(pcm []byte)) error
	Close() error
}

// ChunkEncoder turns one chunk of PCM into the container sent on the wire.
type ChunkEncoder interface {
	MIMEType() string
	Encode(pcm []byte) ([]byte, error)
}

// EncoderFactory builds an encoder for format or reports that it cannot.
type EncoderFactory func(format AudioFormat) (ChunkEncoder, error)

// NegotiateEncoder returns the first encoder the factories can build.
func NegotiateEncoder(format AudioFormat, factories ...EncoderFactory) (ChunkEncoder, error) {
	var lastErr error
	for _, factory := range factories {
		enc, err := factory(format)
		if err == nil {
			return enc, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no encoders configured")
	}
	return nil, WrapError(lastErr, ErrCodeUnsupported, "no supported capture encoding")
}

// DefaultEncoders is the pure-Go ladder for an encoding name. "auto" prefers
// WAV; hardware packages may put a compressed encoder in front.
func DefaultEncoders(encoding string) []EncoderFactory {
	switch encoding {
	case "pcm":
		return []EncoderFactory{NewPCMEncoder}
	default:
		return []EncoderFactory{NewWAVEncoder, NewPCMEncoder}
	}
}

type pcmEncoder struct{ mime string }

// NewPCMEncoder passes PCM through unchanged.
func NewPCMEncoder(format AudioFormat) (ChunkEncoder, error) {
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("pcm encoder needs 16-bit samples, got %d", format.BitsPerSample)
	}
	return &pcmEncoder{mime: fmt.Sprintf("audio/pcm;rate=%d", format.SampleRate)}, nil
}

func (e *pcmEncoder) MIMEType() string { return e.mime }

func (e *pcmEncoder) Encode(pcm []byte) ([]byte, error) {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

type wavEncoder struct{ format AudioFormat }

// NewWAVEncoder wraps each chunk in its own WAV container.
func NewWAVEncoder(format AudioFormat) (ChunkEncoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &wavEncoder{format: format}, nil
}

func (e *wavEncoder) MIMEType() string { return "audio/wav" }

func (e *wavEncoder) Encode(pcm []byte) ([]byte, error) {
	return PCMToWAV(pcm, e.format.SampleRate, e.format.Channels, e.format.BitsPerSample)
}

// MicrophoneSource owns the capture hardware and emits fixed-duration
// encoded chunks while its gate reports the session connected.
type MicrophoneSource struct {
	device    CaptureDevice
	format    AudioFormat
	factories []EncoderFactory
	gate      func() bool
	log       *Logger
	metrics   *Metrics

	mu         sync.Mutex
	capturing  bool
	stream     CaptureStream
	encoder    ChunkEncoder
	pending    []byte
	chunkBytes int
	onChunk    ChunkHandler
}

// NewMicrophoneSource builds a source. gate may be nil to always forward.
func NewMicrophoneSource(device CaptureDevice, format AudioFormat, factories []EncoderFactory, gate func() bool, logger *Logger, metrics *Metrics) *MicrophoneSource {
	if len(factories) == 0 {
		factories = DefaultEncoders("auto")
	}
	if gate == nil {
		gate = func() bool { return true }
	}
	return &MicrophoneSource{
		device:    device,
		format:    format,
		factories: factories,
		gate:      gate,
		log:       orNop(logger).WithComponent("microphone"),
		metrics:   metrics,
	}
}

// Acquire requests the input device. Failures are *LiveError with one of
// the device codes and a remediation hint.
func (m *MicrophoneSource) Acquire(ctx context.Context) (CaptureStream, error) {
	if m.device == nil {
		return nil, MapDeviceError(ErrUnsupported)
	}
	stream, err := m.device.Open(ctx, m.format)
	if err != nil {
		le := MapDeviceError(err)
		m.log.LogError(le)
		return nil, le
	}
	m.log.LogAudioEvent("acquired", map[string]interface{}{"format": stream.Format().String()})
	return stream, nil
}

// StartCapture begins chunked capture on stream. Calling it while already
// capturing logs and returns nil.
func (m *MicrophoneSource) StartCapture(stream CaptureStream, chunkDuration time.Duration, onChunk ChunkHandler) error {
	m.mu.Lock()
	if m.capturing {
		m.mu.Unlock()
		m.log.Debug("Capture already active, ignoring start")
		return nil
	}

	format := stream.Format()
	encoder, err := NegotiateEncoder(format, m.factories...)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	chunkBytes := format.BytesFor(chunkDuration)
	if chunkBytes <= 0 {
		m.mu.Unlock()
		return newCodecError(ErrCodeInvalidParameter, fmt.Sprintf("chunk duration %s too short for %s", chunkDuration, format))
	}

	m.capturing = true
	m.stream = stream
	m.encoder = encoder
	m.chunkBytes = chunkBytes
	m.pending = nil
	m.onChunk = onChunk
	m.mu.Unlock()

	if err := stream.Start(m.onData); err != nil {
		m.mu.Lock()
		m.capturing = false
		m.stream = nil
		m.mu.Unlock()
		return MapDeviceError(err)
	}

	m.log.LogAudioEvent("capture_started", map[string]interface{}{
		"encoding":    encoder.MIMEType(),
		"chunk_ms":    chunkDuration.Milliseconds(),
		"chunk_bytes": chunkBytes,
	})
	return nil
}

// StopCapture stops chunking and releases the stream. No-op when idle.
func (m *MicrophoneSource) StopCapture() {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return
	}
	stream := m.stream
	m.capturing = false
	m.stream = nil
	m.encoder = nil
	m.pending = nil
	m.onChunk = nil
	m.mu.Unlock()

	if err := stream.Close(); err != nil {
		m.log.WithError(err).Warn("Failed to release capture stream")
	}
	m.log.LogAudioEvent("capture_stopped", nil)
}

// Capturing reports whether chunks are being produced.
func (m *MicrophoneSource) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

func (m *MicrophoneSource) onData(pcm []byte) {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, pcm...)

	var chunks []EncodedChunk
	for len(m.pending) >= m.chunkBytes {
		raw := m.pending[:m.chunkBytes]
		encoded, err := m.encoder.Encode(raw)
		m.pending = m.pending[m.chunkBytes:]
		if err != nil {
			m.log.WithError(err).Warn("Dropping chunk that failed to encode")
			m.metrics.ChunkDropped("encode_error")
			continue
		}
		chunks = append(chunks, EncodedChunk{Data: encoded, MIMEType: m.encoder.MIMEType()})
	}
	if len(m.pending) == 0 {
		m.pending = nil
	}
	onChunk := m.onChunk
	m.mu.Unlock()

	for _, chunk := range chunks {
		if !m.gate() {
			m.metrics.ChunkDropped("not_connected")
			continue
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}
