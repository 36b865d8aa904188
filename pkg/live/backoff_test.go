package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	prev := time.Duration(0)
	for i, w := range want {
		got := b.Delay(i + 1)
		require.Equal(t, w, got, "attempt %d", i+1)
		require.GreaterOrEqual(t, got, prev)
		prev = got
	}
	require.Equal(t, 10*time.Second, b.Delay(1000))
	require.Equal(t, time.Second, b.Delay(0))
}
