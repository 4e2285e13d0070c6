package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLinkWindowBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	d := Start(clock, LinkWindow)

	clock.Advance(9*time.Minute + 59*time.Second)
	require.False(t, d.Expired())
	require.Equal(t, time.Second, d.Remaining())
	require.Equal(t, "0:01", d.Countdown())

	clock.Advance(2 * time.Second)
	require.True(t, d.Expired())
	require.Equal(t, time.Duration(0), d.Remaining())
	require.Equal(t, "0:00", d.Countdown())
}

func TestExpiredExactlyAtDeadline(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	d := Start(clock, CodeWindow)

	clock.Advance(CodeWindow)
	require.True(t, d.Expired())
}

func TestRemainingNonIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		d := Start(clock, LinkWindow)

		prev := d.Remaining()
		steps := rapid.SliceOf(rapid.Int64Range(0, int64(time.Minute))).Draw(t, "steps")
		for _, step := range steps {
			clock.Advance(time.Duration(step))
			cur := d.Remaining()
			if cur > prev || cur < 0 {
				t.Fatalf("remaining went from %v to %v", prev, cur)
			}
			prev = cur
		}
	})
}

func TestUntil(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	d := Until(clock, time.Unix(999, 0))
	require.True(t, d.Expired())

	d = Until(clock, time.Unix(1060, 0))
	require.False(t, d.Expired())
	require.Equal(t, "1:00", d.Countdown())
}

func TestZeroDeadlineIsExpired(t *testing.T) {
	var d Deadline
	require.True(t, d.IsZero())
	require.True(t, d.Expired())
	require.Equal(t, time.Duration(0), d.Remaining())
}

func TestFormatCountdown(t *testing.T) {
	require.Equal(t, "10:00", FormatCountdown(10*time.Minute))
	require.Equal(t, "0:30", FormatCountdown(29*time.Second+time.Millisecond))
	require.Equal(t, "0:00", FormatCountdown(-time.Second))
}

func TestWatchStopsAtExpiry(t *testing.T) {
	d := Start(SystemClock, 30*time.Millisecond)

	var calls []time.Duration
	d.Watch(context.Background(), 10*time.Millisecond, func(remaining time.Duration) {
		calls = append(calls, remaining)
	})

	require.NotEmpty(t, calls)
	require.Equal(t, time.Duration(0), calls[len(calls)-1])
}

func TestWatchZeroInterval(t *testing.T) {
	d := Start(SystemClock, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	require.NotPanics(t, func() {
		d.Watch(ctx, 0, func(time.Duration) { calls++ })
	})
	require.Equal(t, 1, calls)
}
