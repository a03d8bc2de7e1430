package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	s, err := New(50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.Start(context.Background(), "pipeline", func(ctx context.Context) {
		runs.Add(1)
	}))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_NoOverlap(t *testing.T) {
	s, err := New(10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	var active, maxActive, runs atomic.Int32
	require.NoError(t, s.Start(context.Background(), "pipeline", func(ctx context.Context) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestNew_RejectsZeroInterval(t *testing.T) {
	_, err := New(0, zerolog.Nop())
	assert.Error(t, err)
}
