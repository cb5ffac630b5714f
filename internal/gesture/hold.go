// Package gesture implements the press-and-hold confirmation that guards
// the SOS action against accidental activation.
package gesture

import (
	"sync"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/clock"
)

const (
	DefaultHoldDuration = time.Second
	DefaultTickInterval = 16 * time.Millisecond
)

var thresholds = []int{25, 50, 75}

// Feedback receives tactile cues. Implementations must not block.
type Feedback interface {
	Start()
	Threshold(percent int)
	Confirm()
}

type Option func(*HoldGate)

// WithGuard disables Press while enabled reports false.
func WithGuard(enabled func() bool) Option {
	return func(g *HoldGate) { g.enabled = enabled }
}

func WithFeedback(f Feedback) Option {
	return func(g *HoldGate) { g.feedback = f }
}

// WithProgress registers a callback invoked on every tick with the current
// progress in percent.
func WithProgress(fn func(int)) Option {
	return func(g *HoldGate) { g.onProgress = fn }
}

type HoldGate struct {
	clock     clock.Clock
	duration  time.Duration
	tick      time.Duration
	onConfirm func()

	enabled    func() bool
	feedback   Feedback
	onProgress func(int)

	mu        sync.Mutex
	timer     clock.Timer
	gen       uint64
	startedAt time.Time
	holding   bool
	progress  int
	confirmed bool
}

func NewHoldGate(clk clock.Clock, duration, tick time.Duration, onConfirm func(), opts ...Option) *HoldGate {
	if duration <= 0 {
		duration = DefaultHoldDuration
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	g := &HoldGate{
		clock:     clk,
		duration:  duration,
		tick:      tick,
		onConfirm: onConfirm,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Press starts a hold. It reports false when the gate is disabled.
func (g *HoldGate) Press() bool {
	if g.enabled != nil && !g.enabled() {
		return false
	}

	g.mu.Lock()
	g.stopLocked()
	g.gen++
	gen := g.gen
	g.startedAt = g.clock.Now()
	g.holding = true
	g.progress = 0
	g.confirmed = false
	g.timer = clock.Every(g.clock, g.tick, func() { g.advance(gen) })
	g.mu.Unlock()

	if g.feedback != nil {
		g.feedback.Start()
	}
	return true
}

// Release ends a hold. An incomplete hold resets progress to 0 with no other
// effect; after confirmation it does nothing.
func (g *HoldGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.holding {
		return
	}
	g.stopLocked()
	g.gen++
	g.holding = false
	g.progress = 0
}

// Reset clears a completed hold so the gate shows 0 again.
func (g *HoldGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.gen++
	g.holding = false
	g.progress = 0
	g.confirmed = false
}

func (g *HoldGate) Progress() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

func (g *HoldGate) Confirmed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmed
}

func (g *HoldGate) Holding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holding
}

func (g *HoldGate) advance(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || !g.holding || g.confirmed {
		g.mu.Unlock()
		return
	}

	elapsed := g.clock.Now().Sub(g.startedAt)
	next := int(elapsed * 100 / g.duration)
	if next > 100 {
		next = 100
	}
	if next < g.progress {
		next = g.progress
	}

	var crossed []int
	for _, t := range thresholds {
		if g.progress < t && next >= t {
			crossed = append(crossed, t)
		}
	}
	g.progress = next

	fire := false
	if next >= 100 {
		g.confirmed = true
		g.holding = false
		g.stopLocked()
		fire = true
	}
	g.mu.Unlock()

	if g.onProgress != nil {
		g.onProgress(next)
	}
	if g.feedback != nil {
		for _, t := range crossed {
			g.feedback.Threshold(t)
		}
		if fire {
			g.feedback.Confirm()
		}
	}
	if fire && g.onConfirm != nil {
		g.onConfirm()
	}
}

func (g *HoldGate) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
