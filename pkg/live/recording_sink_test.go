package live

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingSinkWritesWAVAndForwards(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "segments")
	next := &manualSink{}
	sink, err := NewRecordingSink(dir, next, nil)
	require.NoError(t, err)

	buf := AudioBuffer{Format: DefaultPlaybackFormat(), Data: []byte("abcd")}
	require.NoError(t, sink.Play(buf, func() {}))
	assert.Equal(t, []string{"abcd"}, next.playedSnapshot())

	files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	hdr, err := ParseWAVHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 24000, hdr.SampleRate)
	assert.Equal(t, 4, hdr.DataLength)

	segments, total := sink.Stats()
	assert.Equal(t, 1, segments)
	assert.Equal(t, int64(4), total)

	require.NoError(t, sink.Stop())
	assert.Equal(t, 1, next.stopCount())
}

func TestRecordingSinkStillPlaysWhenSaveFails(t *testing.T) {
	next := &manualSink{}
	sink, err := NewRecordingSink(t.TempDir(), next, nil)
	require.NoError(t, err)

	// An invalid format cannot be framed as WAV but still reaches the sink.
	buf := AudioBuffer{Format: AudioFormat{SampleRate: 24000, Channels: 5, BitsPerSample: 16}, Data: []byte("x")}
	require.NoError(t, sink.Play(buf, func() {}))
	assert.Equal(t, []string{"x"}, next.playedSnapshot())
}
