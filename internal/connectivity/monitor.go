// Package connectivity tracks whether the hospital backend is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

type Checker interface {
	Health(ctx context.Context) error
}

// Monitor polls a Checker and caches the result. It reports online until
// the first check says otherwise.
type Monitor struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	onChange func(online bool)

	online atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(checker Checker, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
	}
	m.online.Store(true)
	return m
}

// OnChange registers a callback for online/offline transitions. Must be
// called before Start.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.onChange = fn
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.runPoller(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	slog.Info("connectivity monitor stopped")
}

func (m *Monitor) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting connectivity monitor", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.checker.Health(cctx)
	cancel()

	if ctx.Err() != nil {
		return
	}

	online := err == nil
	if m.online.Swap(online) == online {
		return
	}
	if online {
		slog.Info("backend reachable again")
	} else {
		slog.Warn("backend unreachable", "error", err)
	}
	if m.onChange != nil {
		m.onChange(online)
	}
}
