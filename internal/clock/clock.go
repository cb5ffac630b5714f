// Package clock abstracts timers so the dispatch flow can be driven
// deterministically in tests.
package clock

import "time"

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every calls f every d until the returned Timer is stopped. The next call is
// scheduled after f returns, so slow callbacks never overlap.
func Every(c Clock, d time.Duration, f func()) Timer {
	r := &repeater{}
	var arm func()
	arm = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.stopped {
			return
		}
		r.current = c.AfterFunc(d, func() {
			f()
			arm()
		})
	}
	arm()
	return r
}
