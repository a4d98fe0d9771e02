package timer

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunWithTickerStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RunWithTicker(context.Background(), &Interval{Duration: 5 * time.Millisecond, Jitter: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestRunWithTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := RunWithTicker(ctx, &Interval{Duration: 5 * time.Millisecond}, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunWithTickerRejectsBadInterval(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	err := RunWithTicker(context.Background(), &Interval{Duration: time.Second, Jitter: time.Second}, noop)
	require.ErrorIs(t, err, ErrInvalidInterval)
	err = RunWithTicker(context.Background(), &Interval{}, noop)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestUniformJitterBounds(t *testing.T) {
	j := &uniformJitter{rng: rand.New(rand.NewSource(1)), maxJitter: 100 * time.Millisecond}
	for i := 0; i < 1000; i++ {
		d := j.Jitter(time.Second)
		require.GreaterOrEqual(t, d, 900*time.Millisecond)
		require.Less(t, d, 1100*time.Millisecond)
	}
	require.Equal(t, time.Second, (&uniformJitter{}).Jitter(time.Second))
}
