// Package expiry tracks share deadlines.
//
// Expiry is always evaluated lazily against the clock. Timers and tickers built
// on a Deadline are only there to refresh a countdown display or to prompt a
// session to look at its deadline; they are never the source of truth.
package expiry

import (
	"context"
	"fmt"
	"time"
)

const (
	CodeWindow = 30 * time.Second
	LinkWindow = 10 * time.Minute
	ViewWindow = 10 * time.Minute
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Deadline is an instant after which a share is dead.
type Deadline struct {
	clock     Clock
	createdAt time.Time
	expiresAt time.Time
}

// New returns a deadline d after createdAt.
func New(clock Clock, createdAt time.Time, d time.Duration) Deadline {
	if clock == nil {
		clock = SystemClock
	}
	return Deadline{clock: clock, createdAt: createdAt, expiresAt: createdAt.Add(d)}
}

// Start returns a deadline d from now.
func Start(clock Clock, d time.Duration) Deadline {
	if clock == nil {
		clock = SystemClock
	}
	return New(clock, clock.Now(), d)
}

// Until returns a deadline at an absolute instant, such as the exp parameter of a link.
func Until(clock Clock, expiresAt time.Time) Deadline {
	if clock == nil {
		clock = SystemClock
	}
	return Deadline{clock: clock, createdAt: clock.Now(), expiresAt: expiresAt}
}

func (d Deadline) CreatedAt() time.Time { return d.createdAt }
func (d Deadline) ExpiresAt() time.Time { return d.expiresAt }

// IsZero reports whether the deadline was never set.
func (d Deadline) IsZero() bool { return d.clock == nil }

// Remaining returns the time left, never negative.
func (d Deadline) Remaining() time.Duration {
	if d.clock == nil {
		return 0
	}
	remaining := d.expiresAt.Sub(d.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the deadline has passed. An unset deadline is expired.
func (d Deadline) Expired() bool {
	if d.clock == nil {
		return true
	}
	return !d.clock.Now().Before(d.expiresAt)
}

// Countdown formats the remaining time as m:ss, rounding up to the next second.
func (d Deadline) Countdown() string {
	return FormatCountdown(d.Remaining())
}

// FormatCountdown formats a duration as m:ss, rounding up to the next second.
func FormatCountdown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Watch calls fn with the remaining time every interval until the deadline passes
// or ctx is done. fn is called one final time with zero once the deadline passes.
// A non-positive interval means once a second.
func (d Deadline) Watch(ctx context.Context, interval time.Duration, fn func(time.Duration)) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(d.Remaining())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := d.Remaining()
			fn(remaining)
			if remaining == 0 {
				return
			}
		}
	}
}

// AfterFunc runs fn on its own goroutine once the remaining time has elapsed on
// the system timer. fn must still check Expired.
func (d Deadline) AfterFunc(fn func()) *time.Timer {
	return time.AfterFunc(d.Remaining(), fn)
}
