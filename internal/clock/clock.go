// Package clock abstracts wall time and one-shot timers so schedulers can be
// driven by virtual time in tests.
package clock

import "time"

// Clock is the subset of the time package the reminder scheduler needs.
type Clock interface {
	Now() time.Time
	// AfterFunc waits for d to elapse and then calls f in its own goroutine
	// (real clock) or synchronously from Advance (fake clock).
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
