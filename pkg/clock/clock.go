// Package clock provides an injectable time source and the precise-delay primitive used by the
// window scheduler.
package clock

import "time"

// Clock abstracts wall-clock reads and timers so that timing code can be driven by tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of *time.Timer the package relies on.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Real is the production clock backed by the time package.
type Real struct{}

// New returns the real clock.
func New() Clock { return Real{} }

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// NewTimer wraps time.NewTimer.
func (Real) NewTimer(d time.Duration) Timer { return realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
