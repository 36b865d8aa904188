package live

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualSink records Play calls and completes them only when told to.
type manualSink struct {
	mu      sync.Mutex
	played  []string
	pending []func()
	stops   int
	failOn  string
}

func (s *manualSink) Play(buf AudioBuffer, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if string(buf.Data) == s.failOn {
		return errors.New("sink refused")
	}
	s.played = append(s.played, string(buf.Data))
	s.pending = append(s.pending, done)
	return nil
}

func (s *manualSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *manualSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *manualSink) finishCurrent() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	done := s.pending[len(s.pending)-1]
	s.mu.Unlock()
	done()
	return true
}

func (s *manualSink) playedSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...)
}

// immediateSink completes each buffer synchronously inside Play.
type immediateSink struct {
	mu     sync.Mutex
	played []string
}

func (s *immediateSink) Play(buf AudioBuffer, done func()) error {
	s.mu.Lock()
	s.played = append(s.played, string(buf.Data))
	s.mu.Unlock()
	done()
	return nil
}

func (s *immediateSink) Stop() error { return nil }

type playbackEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *playbackEvents) add(ev string) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *playbackEvents) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *playbackEvents) listener() PlaybackListener {
	return PlaybackListener{
		OnBufferStart: func(b AudioBuffer) { e.add("play:" + string(b.Data)) },
		OnSpeechStart: func() { e.add("speech-start") },
		OnIdle:        func() { e.add("idle") },
	}
}

func pcmBuf(s string) AudioBuffer {
	return AudioBuffer{Format: DefaultPlaybackFormat(), Data: []byte(s)}
}

func TestPlaybackQueueNoGap(t *testing.T) {
	sink := &manualSink{}
	events := &playbackEvents{}
	q := NewPlaybackQueue(sink, events.listener(), NopLogger(), nil)

	names := []string{"b1", "b2", "b3", "b4", "b5"}
	for _, b := range names {
		q.Enqueue(pcmBuf(b))
	}

	for i := range names {
		require.Eventually(t, func() bool { return len(sink.playedSnapshot()) == i+1 }, time.Second, time.Millisecond)
		require.True(t, sink.finishCurrent())
	}
	require.Eventually(t, func() bool { return !q.Playing() }, time.Second, time.Millisecond)

	require.Equal(t, names, sink.playedSnapshot())
	require.Equal(t, []string{
		"speech-start",
		"play:b1", "play:b2", "play:b3", "play:b4", "play:b5",
		"idle",
	}, events.snapshot())
}

func TestPlaybackQueueSynchronousCompletion(t *testing.T) {
	sink := &immediateSink{}
	events := &playbackEvents{}
	q := NewPlaybackQueue(sink, events.listener(), NopLogger(), nil)

	for _, b := range []string{"b1", "b2", "b3"} {
		q.Enqueue(pcmBuf(b))
	}
	require.Eventually(t, func() bool { return !q.Playing() && q.Len() == 0 }, time.Second, time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []string{"b1", "b2", "b3"}, sink.played)
}

func TestPlaybackQueueSequentialHandoff(t *testing.T) {
	sink := &manualSink{}
	events := &playbackEvents{}
	q := NewPlaybackQueue(sink, events.listener(), NopLogger(), nil)

	q.Enqueue(pcmBuf("b1"))
	q.Enqueue(pcmBuf("b2"))
	q.Enqueue(pcmBuf("b3"))

	require.Equal(t, []string{"b1"}, sink.playedSnapshot())
	require.Equal(t, 2, q.Len())

	for i, want := range [][]string{{"b1", "b2"}, {"b1", "b2", "b3"}} {
		require.True(t, sink.finishCurrent())
		require.Eventually(t, func() bool { return len(sink.playedSnapshot()) == len(want) }, time.Second, time.Millisecond, "step %d", i)
		require.Equal(t, want, sink.playedSnapshot())
	}
	require.True(t, sink.finishCurrent())
	require.Eventually(t, func() bool { return !q.Playing() }, time.Second, time.Millisecond)

	require.Equal(t, []string{"speech-start", "play:b1", "play:b2", "play:b3", "idle"}, events.snapshot())
}

func TestPlaybackQueueFlush(t *testing.T) {
	sink := &manualSink{}
	events := &playbackEvents{}
	q := NewPlaybackQueue(sink, events.listener(), NopLogger(), nil)

	q.Enqueue(pcmBuf("b1"))
	q.Enqueue(pcmBuf("b2"))
	q.Enqueue(pcmBuf("b3"))
	require.Equal(t, []string{"b1"}, sink.playedSnapshot())

	q.Flush()
	require.Equal(t, []string{"speech-start", "play:b1", "idle"}, events.snapshot())
	require.Equal(t, 1, sink.stopCount())
	require.Zero(t, q.Len())
	require.False(t, q.Playing())

	// A late completion from the stopped buffer must not resurrect b2.
	require.True(t, sink.finishCurrent())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"b1"}, sink.playedSnapshot())
	require.Equal(t, []string{"speech-start", "play:b1", "idle"}, events.snapshot())

	// Flushing an idle queue is silent.
	q.Flush()
	require.Equal(t, 1, sink.stopCount())
	require.Len(t, events.snapshot(), 3)

	// The queue is usable after a flush.
	q.Enqueue(pcmBuf("b4"))
	require.Equal(t, []string{"b1", "b4"}, sink.playedSnapshot())
	require.Equal(t, "speech-start", events.snapshot()[3])
}

func TestPlaybackQueueEnqueueDuringFlushStillCompletes(t *testing.T) {
	events := &playbackEvents{}
	q := NewPlaybackQueue(NewNullSink(), events.listener(), NopLogger(), nil)
	q.Enqueue(AudioBuffer{Format: CaptureFormat(16000), Data: make([]byte, 32000)})
	require.True(t, q.Playing())

	// Park Flush on the sink lock, then enqueue while it is pending.
	q.sinkMu.Lock()
	flushed := make(chan struct{})
	go func() {
		q.Flush()
		close(flushed)
	}()
	time.Sleep(20 * time.Millisecond)
	q.sinkMu.Unlock()
	q.Enqueue(AudioBuffer{Format: CaptureFormat(16000), Data: make([]byte, 320)}) // 10ms
	<-flushed

	require.Eventually(t, func() bool { return !q.Playing() && q.Len() == 0 }, time.Second, 5*time.Millisecond)

	// The queue keeps working afterwards.
	q.Enqueue(AudioBuffer{Format: CaptureFormat(16000), Data: make([]byte, 320)})
	require.Eventually(t, func() bool { return !q.Playing() }, time.Second, 5*time.Millisecond)
}

func TestPlaybackQueueSkipsRejectedBuffer(t *testing.T) {
	sink := &manualSink{failOn: "bad"}
	events := &playbackEvents{}
	q := NewPlaybackQueue(sink, events.listener(), NopLogger(), nil)

	q.Enqueue(pcmBuf("bad"))
	q.Enqueue(pcmBuf("good"))

	require.Eventually(t, func() bool { return len(sink.playedSnapshot()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"good"}, sink.playedSnapshot())
}

func TestNullSinkCompletesAfterDuration(t *testing.T) {
	s := NewNullSink()
	done := make(chan struct{})
	buf := AudioBuffer{Format: CaptureFormat(16000), Data: make([]byte, 320)} // 10ms
	require.NoError(t, s.Play(buf, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("null sink never completed")
	}

	stopped := make(chan struct{})
	require.NoError(t, s.Play(AudioBuffer{Format: CaptureFormat(16000), Data: make([]byte, 32000)}, func() { close(stopped) }))
	require.NoError(t, s.Stop())
	select {
	case <-stopped:
		t.Fatal("stopped buffer completed")
	case <-time.After(50 * time.Millisecond):
	}
}
