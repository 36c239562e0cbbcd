// Package clock abstracts the time functions used by timers in the registry
// and the roll delegation protocol so tests can drive them deterministically.
package clock

import "time"

// Clock defines the time operations used across dicebox.
type Clock interface {
	// Now returns the current local time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// AfterFunc waits for the duration to elapse and then calls f in its own
	// goroutine. The returned Timer can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a Ticker delivering ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop prevents the Timer from firing. It returns false if the timer has
	// already fired or been stopped.
	Stop() bool
}

// Ticker delivers ticks of a clock at intervals.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realClock struct{}

// New returns a Clock backed by the standard time package.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
