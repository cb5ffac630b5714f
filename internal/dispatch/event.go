package dispatch

import "time"

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventCountdown    EventKind = "countdown"
	EventError        EventKind = "error"
	EventWarning      EventKind = "warning"
	// EventFallback asks the user to call the emergency number directly.
	EventFallback EventKind = "fallback_call"
	EventDialed   EventKind = "dialed"
)

// Event is what the UI renders. Remaining is only meaningful for
// EventCountdown and for state changes into StateActive.
type Event struct {
	Kind        EventKind `json:"kind"`
	State       State     `json:"state"`
	EmergencyID string    `json:"emergency_id,omitempty"`
	Remaining   int       `json:"remaining,omitempty"`
	Message     string    `json:"message,omitempty"`
	Number      string    `json:"number,omitempty"`
	At          time.Time `json:"at"`
}
