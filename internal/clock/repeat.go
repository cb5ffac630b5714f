package clock

import "sync"

type repeater struct {
	mu      sync.Mutex
	current Timer
	stopped bool
}

func (r *repeater) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.current != nil {
		r.current.Stop()
	}
	return true
}
