package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	format AudioFormat

	mu     sync.Mutex
	onData func([]byte)
	closed int
}

func (s *fakeStream) Format() AudioFormat { return s.format }

func (s *fakeStream) Start(onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = onData
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onData != nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(pcm []byte) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

type fakeDevice struct {
	err     error
	opened  int32
	streams []*fakeStream
	mu      sync.Mutex
}

func (d *fakeDevice) Open(ctx context.Context, format AudioFormat) (CaptureStream, error) {
	atomic.AddInt32(&d.opened, 1)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{format: format}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func TestMicrophoneAcquireMapsPlatformErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("portaudio: %w", ErrPermissionDenied), ErrCodePermissionDenied},
		{fmt.Errorf("open: %w", ErrDeviceNotFound), ErrCodeDeviceNotFound},
		{ErrDeviceBusy, ErrCodeDeviceBusy},
		{ErrConstraintsNotSatisfiable, ErrCodeConstraints},
		{ErrSecurityRestricted, ErrCodeSecurityRestricted},
		{ErrUnsupported, ErrCodeUnsupported},
		{errors.New("something odd"), ErrCodeAudioDevice},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			mic := NewMicrophoneSource(&fakeDevice{err: tc.err}, CaptureFormat(16000), nil, nil, nil, nil)
			_, err := mic.Acquire(context.Background())
			le := requireCode(t, err, tc.code)
			assert.NotEmpty(t, le.Hint)
			assert.True(t, IsDeviceError(err))
		})
	}
}

func TestMicrophoneChunksAtFixedDuration(t *testing.T) {
	device := &fakeDevice{}
	mic := NewMicrophoneSource(device, CaptureFormat(16000), []EncoderFactory{NewPCMEncoder}, nil, nil, nil)

	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)

	var chunks []EncodedChunk
	require.NoError(t, mic.StartCapture(stream, 100*time.Millisecond, func(c EncodedChunk) {
		chunks = append(chunks, c)
	}))

	// 100ms at 16kHz mono 16-bit is 3200 bytes.
	fs := device.last()
	fs.push(make([]byte, 2000))
	require.Empty(t, chunks)
	fs.push(make([]byte, 2000))
	require.Len(t, chunks, 1)
	fs.push(make([]byte, 6000))
	require.Len(t, chunks, 3)

	for _, c := range chunks {
		assert.Len(t, c.Data, 3200)
		assert.Equal(t, "audio/pcm;rate=16000", c.MIMEType)
	}
}

func TestMicrophoneStartIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	mic := NewMicrophoneSource(device, CaptureFormat(16000), nil, nil, nil, nil)
	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)

	var count int
	onChunk := func(EncodedChunk) { count++ }
	require.NoError(t, mic.StartCapture(stream, 10*time.Millisecond, onChunk))
	require.NoError(t, mic.StartCapture(stream, 10*time.Millisecond, onChunk))
	require.True(t, mic.Capturing())

	device.last().push(make([]byte, 320))
	assert.Equal(t, 1, count)
}

func TestMicrophoneGateDropsChunks(t *testing.T) {
	var open atomic.Bool
	device := &fakeDevice{}
	reg := NewMetrics("", nil)
	mic := NewMicrophoneSource(device, CaptureFormat(16000), nil, open.Load, nil, reg)
	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)

	var got []EncodedChunk
	require.NoError(t, mic.StartCapture(stream, 10*time.Millisecond, func(c EncodedChunk) { got = append(got, c) }))

	device.last().push(make([]byte, 320))
	require.Empty(t, got)

	open.Store(true)
	device.last().push(make([]byte, 320))
	require.Len(t, got, 1)
	assert.Equal(t, "audio/wav", got[0].MIMEType)

	hdr, err := ParseWAVHeader(got[0].Data)
	require.NoError(t, err)
	assert.Equal(t, 320, hdr.DataLength)
}

func TestMicrophoneStopReleasesStream(t *testing.T) {
	device := &fakeDevice{}
	mic := NewMicrophoneSource(device, CaptureFormat(16000), nil, nil, nil, nil)

	mic.StopCapture()

	stream, err := mic.Acquire(context.Background())
	require.NoError(t, err)
	var count int
	require.NoError(t, mic.StartCapture(stream, 10*time.Millisecond, func(EncodedChunk) { count++ }))

	mic.StopCapture()
	mic.StopCapture()
	assert.False(t, mic.Capturing())
	assert.Equal(t, 1, device.last().closeCount())

	device.last().push(make([]byte, 320))
	assert.Zero(t, count)
}

func TestNegotiateEncoderFallsBack(t *testing.T) {
	unavailable := func(AudioFormat) (ChunkEncoder, error) { return nil, errors.New("no opus") }

	enc, err := NegotiateEncoder(CaptureFormat(16000), unavailable, NewWAVEncoder)
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", enc.MIMEType())

	_, err = NegotiateEncoder(CaptureFormat(16000), unavailable)
	requireCode(t, err, ErrCodeUnsupported)

	_, err = NegotiateEncoder(CaptureFormat(16000))
	requireCode(t, err, ErrCodeUnsupported)
}
