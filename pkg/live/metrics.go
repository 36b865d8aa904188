package live

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session client's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	StateTransitions  *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ConnectDuration   prometheus.Histogram

	FramesIn        *prometheus.CounterVec
	FramesOut       *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	AudioBytes      *prometheus.CounterVec
	DroppedChunks   *prometheus.CounterVec

	BuffersPlayed   prometheus.Counter
	PlaybackFlushes prometheus.Counter
}

// NewMetrics registers collectors on reg. A nil reg gets a private registry.
// Registering twice on the same registry reuses the existing collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "interview_live"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		StateTransitions: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Connection state transitions by target state",
			},
			[]string{"state"},
		)),
		ReconnectAttempts: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts",
		})),
		ConnectDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from attempt start to open transport",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})),
		FramesIn: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_in_total",
				Help:      "Inbound frames by kind",
			},
			[]string{"kind"},
		)),
		FramesOut: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_out_total",
				Help:      "Outbound frames by kind",
			},
			[]string{"kind"},
		)),
		MalformedFrames: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that failed to decode",
		})),
		AudioBytes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Audio payload bytes by direction",
			},
			[]string{"direction"},
		)),
		DroppedChunks: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_chunks_total",
				Help:      "Outbound audio chunks dropped by reason",
			},
			[]string{"reason"},
		)),
		BuffersPlayed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_buffers_total",
			Help:      "Buffers handed to the audio sink",
		})),
		PlaybackFlushes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_flushes_total",
			Help:      "Playback flushes caused by interruption or teardown",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) StateChanged(s ConnectionState) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) Connected(since time.Time) {
	if m == nil {
		return
	}
	m.ConnectDuration.Observe(time.Since(since).Seconds())
}

func (m *Metrics) FrameIn(kind FrameKind) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) FrameOut(kind string, size int) {
	if m == nil {
		return
	}
	m.FramesOut.WithLabelValues(kind).Inc()
	if kind == "realtime_input" {
		m.AudioBytes.WithLabelValues("out").Add(float64(size))
	}
}

func (m *Metrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *Metrics) AudioIn(size int) {
	if m == nil {
		return
	}
	m.AudioBytes.WithLabelValues("in").Add(float64(size))
}

func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedChunks.WithLabelValues(reason).Inc()
}

func (m *Metrics) BufferPlayed(size int) {
	if m == nil {
		return
	}
	m.BuffersPlayed.Inc()
}

func (m *Metrics) PlaybackFlushed() {
	if m == nil {
		return
	}
	m.PlaybackFlushes.Inc()
}
