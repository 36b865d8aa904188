package live

import (
	"sync"
	"time"
)

// AudioSink plays one buffer at a time. Play must return promptly and invoke
// done exactly once when the buffer has finished playing naturally. After
// Stop, a pending done may still fire; the queue ignores it.
type AudioSink interface {
	Play(buf AudioBuffer, done func()) error
	Stop() error
}

// PlaybackListener receives queue transitions. Callbacks run while the queue
// lock is held and must not block or call back into the queue.
type PlaybackListener struct {
	OnBufferStart func(AudioBuffer)
	OnSpeechStart func()
	OnIdle        func()
}

// PlaybackQueue serializes decoded buffers into gapless FIFO playback.
type PlaybackQueue struct {
	sink     AudioSink
	listener PlaybackListener
	log      *Logger
	metrics  *Metrics

	mu      sync.Mutex
	queue   []AudioBuffer
	playing bool
	playID  uint64

	// sinkMu serializes Play and Stop on the sink. Flush holds it across the
	// state reset; lock order is sinkMu then mu.
	sinkMu sync.Mutex
}

func NewPlaybackQueue(sink AudioSink, listener PlaybackListener, logger *Logger, metrics *Metrics) *PlaybackQueue {
	if sink == nil {
		sink = NewNullSink()
	}
	return &PlaybackQueue{
		sink:     sink,
		listener: listener,
		log:      orNop(logger).WithComponent("playback"),
		metrics:  metrics,
	}
}

// Enqueue appends buf and starts playback if nothing is playing.
func (q *PlaybackQueue) Enqueue(buf AudioBuffer) {
	if len(buf.Data) == 0 {
		return
	}
	q.mu.Lock()
	q.queue = append(q.queue, buf)
	if q.playing {
		q.mu.Unlock()
		return
	}
	next, id := q.advanceLocked()
	q.mu.Unlock()

	q.play(next, id)
}

// Flush stops the audible buffer and discards everything queued. OnIdle
// fires if anything was playing or queued. The sink is stopped before any
// later Enqueue can reach it, so Stop never cancels a newer buffer.
func (q *PlaybackQueue) Flush() {
	q.sinkMu.Lock()
	defer q.sinkMu.Unlock()

	q.mu.Lock()
	active := q.playing || len(q.queue) > 0
	dropped := len(q.queue)
	q.queue = nil
	q.playing = false
	q.playID++
	if active && q.listener.OnIdle != nil {
		q.listener.OnIdle()
	}
	q.mu.Unlock()

	if !active {
		return
	}
	q.metrics.PlaybackFlushed()
	q.log.LogAudioEvent("flush", map[string]interface{}{"dropped": dropped})

	if err := q.sink.Stop(); err != nil {
		q.log.WithError(err).Warn("Sink stop failed")
	}
}

// Len returns the number of buffers waiting behind the playing one.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Playing reports whether a buffer occupies the playing slot.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// advanceLocked moves the head into the playing slot.
func (q *PlaybackQueue) advanceLocked() (AudioBuffer, uint64) {
	wasIdle := !q.playing
	next := q.queue[0]
	q.queue[0] = AudioBuffer{}
	q.queue = q.queue[1:]
	q.playing = true
	q.playID++

	if wasIdle && q.listener.OnSpeechStart != nil {
		q.listener.OnSpeechStart()
	}
	if q.listener.OnBufferStart != nil {
		q.listener.OnBufferStart(next)
	}
	return next, q.playID
}

func (q *PlaybackQueue) current(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing && q.playID == id
}

func (q *PlaybackQueue) play(buf AudioBuffer, id uint64) {
	q.sinkMu.Lock()
	defer q.sinkMu.Unlock()

	if !q.current(id) {
		return
	}
	q.metrics.BufferPlayed(len(buf.Data))

	var once sync.Once
	done := func() { once.Do(func() { go q.complete(id) }) }
	if err := q.sink.Play(buf, done); err != nil {
		q.log.WithError(err).Warn("Sink rejected buffer, skipping")
		done()
	}
}

// complete hands the slot to the next buffer or goes idle.
func (q *PlaybackQueue) complete(id uint64) {
	q.mu.Lock()
	if !q.playing || q.playID != id {
		q.mu.Unlock()
		return
	}
	if len(q.queue) == 0 {
		q.playing = false
		if q.listener.OnIdle != nil {
			q.listener.OnIdle()
		}
		q.mu.Unlock()
		return
	}
	next, nextID := q.advanceLocked()
	q.mu.Unlock()

	q.play(next, nextID)
}

// NullSink "plays" a buffer by waiting for its duration. It backs headless
// sessions and tests.
type NullSink struct {
	mu    sync.Mutex
	timer *time.Timer
}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (s *NullSink) Play(buf AudioBuffer, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(buf.Duration(), done)
	return nil
}

func (s *NullSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}
