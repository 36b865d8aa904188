package live

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.StateChanged(Connected)
	m.ReconnectScheduled()
	m.FrameIn(FrameContent)
	m.FrameOut("setup", 10)
	m.MalformedFrame()
	m.AudioIn(10)
	m.ChunkDropped("not_connected")
	m.BufferPlayed(10)
	m.PlaybackFlushed()
}

func TestMetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics("", reg)
	b := NewMetrics("", reg)

	a.ChunkDropped("not_connected")
	b.ChunkDropped("not_connected")
	a.FrameOut("realtime_input", 100)

	require.Equal(t, 2.0, testutil.ToFloat64(a.DroppedChunks.WithLabelValues("not_connected")))
	require.Equal(t, 100.0, testutil.ToFloat64(a.AudioBytes.WithLabelValues("out")))
}
