package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChecker struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeChecker) Health(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeChecker) set(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_OptimisticBeforeFirstCheck(t *testing.T) {
	m := NewMonitor(&fakeChecker{}, time.Minute, time.Second)
	if !m.Online() {
		t.Error("expected monitor to start online")
	}
}

func TestMonitor_TracksReachability(t *testing.T) {
	checker := &fakeChecker{err: errors.New("connection refused")}

	var mu sync.Mutex
	var changes []bool

	m := NewMonitor(checker, 10*time.Millisecond, time.Second)
	m.OnChange(func(online bool) {
		mu.Lock()
		changes = append(changes, online)
		mu.Unlock()
	})
	m.Start(context.Background())
	defer m.Stop()

	waitUntil(t, func() bool { return !m.Online() })

	checker.set(nil)
	waitUntil(t, m.Online)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || changes[0] || !changes[1] {
		t.Errorf("expected [false true] transitions, got %v", changes)
	}
}

func TestMonitor_StopWaitsForPoller(t *testing.T) {
	checker := &fakeChecker{}
	m := NewMonitor(checker, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitUntil(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		return checker.calls >= 2
	})
	m.Stop()
	// Stop on a stopped monitor is harmless.
	m.Stop()
}
