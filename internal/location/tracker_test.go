package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var hospital = models.Coordinates{Latitude: 13.7650, Longitude: 100.5380}

// fakeProvider records subscriptions and lets tests push samples by hand.
type fakeProvider struct {
	mu       sync.Mutex
	current  models.Coordinates
	denied   bool
	watchErr error
	subs     []*fakeSub
}

type fakeSub struct {
	opts         WatchOptions
	fn           func(models.Coordinates)
	unsubscribed int
}

func (s *fakeSub) Unsubscribe() { s.unsubscribed++ }

func (p *fakeProvider) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return models.Coordinates{}, ErrPermissionDenied
	}
	return p.current, nil
}

func (p *fakeProvider) Watch(opts WatchOptions, fn func(models.Coordinates)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return nil, ErrPermissionDenied
	}
	if p.watchErr != nil {
		return nil, p.watchErr
	}
	s := &fakeSub{opts: opts, fn: fn}
	p.subs = append(p.subs, s)
	return s, nil
}

// active returns subscriptions that have not been torn down.
func (p *fakeProvider) active() []*fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*fakeSub
	for _, s := range p.subs {
		if s.unsubscribed == 0 {
			out = append(out, s)
		}
	}
	return out
}

func (p *fakeProvider) emit(c models.Coordinates) {
	for _, s := range p.active() {
		s.fn(c)
	}
}

type fakeGeocoder struct {
	mu    sync.Mutex
	addr  models.Address
	err   error
	calls int
}

func (g *fakeGeocoder) ReverseGeocode(ctx context.Context, c models.Coordinates) (models.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.addr, g.err
}

func newTestTracker(p *fakeProvider, g Geocoder) *Tracker {
	return NewTracker(p, g, DefaultConfig(hospital))
}

func TestTracker_StartWatchesInNormalMode(t *testing.T) {
	p := &fakeProvider{current: models.Coordinates{Latitude: 13.80, Longitude: 100.60}}
	g := &fakeGeocoder{addr: models.Address{Street: "Rama IV Rd", City: "Bangkok"}}
	tr := newTestTracker(p, g)

	tr.Start(context.Background())
	defer tr.Stop()
	tr.lookups.Wait()

	subs := p.active()
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].opts.Accuracy != AccuracyBalanced || subs[0].opts.DistanceFilterM != 100 {
		t.Errorf("expected normal watch options, got %+v", subs[0].opts)
	}

	snap := tr.Snapshot()
	if !snap.HasFix || snap.Mode != ModeNormal || !snap.Watching {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Address != "Rama IV Rd, Bangkok" {
		t.Errorf("expected geocoded address, got %q", snap.Address)
	}
	want := geo.DistanceKm(p.current, hospital)
	if snap.DistanceKm != want {
		t.Errorf("expected distance %v, got %v", want, snap.DistanceKm)
	}
}

func TestTracker_ModeSwitchReplacesSubscription(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)

	tr.Start(context.Background())
	defer tr.Stop()

	tr.SetEmergency(true)
	subs := p.active()
	if len(subs) != 1 {
		t.Fatalf("expected exactly 1 active subscription, got %d", len(subs))
	}
	if subs[0].opts.Accuracy != AccuracyHigh || subs[0].opts.DistanceFilterM != 5 {
		t.Errorf("expected emergency watch options, got %+v", subs[0].opts)
	}
	if len(p.subs) != 2 || p.subs[0].unsubscribed != 1 {
		t.Errorf("expected the normal subscription to be torn down first")
	}

	// Same mode again keeps the current subscription
	tr.SetEmergency(true)
	if len(p.subs) != 2 {
		t.Errorf("expected no resubscription for unchanged mode, got %d subscriptions", len(p.subs))
	}

	tr.SetEmergency(false)
	if subs := p.active(); len(subs) != 1 || subs[0].opts.Accuracy != AccuracyBalanced {
		t.Errorf("expected a single normal subscription after the emergency")
	}
}

func TestTracker_UpdatesRecomputeDistance(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	far := models.Coordinates{Latitude: 13.90, Longitude: 100.70}
	p.emit(far)

	snap := tr.Snapshot()
	if snap.Coordinates != far {
		t.Errorf("expected coordinates %v, got %v", far, snap.Coordinates)
	}
	if snap.DistanceKm != geo.DistanceKm(far, hospital) {
		t.Errorf("distance not recomputed, got %v", snap.DistanceKm)
	}
	if snap.DistanceKm != geo.Round(snap.DistanceKm, 2) {
		t.Errorf("distance not rounded to 2 places: %v", snap.DistanceKm)
	}
}

func TestTracker_GeocodeFailureKeepsPreviousAddress(t *testing.T) {
	p := &fakeProvider{}
	g := &fakeGeocoder{addr: models.Address{Street: "Henri Dunant Rd"}}
	tr := newTestTracker(p, g)
	tr.Start(context.Background())
	defer tr.Stop()
	tr.lookups.Wait()

	if got := tr.Snapshot().Address; got != "Henri Dunant Rd" {
		t.Fatalf("expected initial address, got %q", got)
	}

	g.mu.Lock()
	g.err = errors.New("geocoder unavailable")
	g.mu.Unlock()
	p.emit(models.Coordinates{Latitude: 13.70, Longitude: 100.50})
	tr.lookups.Wait()

	if got := tr.Snapshot().Address; got != "Henri Dunant Rd" {
		t.Errorf("expected previous address to survive failure, got %q", got)
	}

	// An empty result is treated like a failure
	g.mu.Lock()
	g.err = nil
	g.addr = models.Address{}
	g.mu.Unlock()
	p.emit(models.Coordinates{Latitude: 13.71, Longitude: 100.51})
	tr.lookups.Wait()
	if got := tr.Snapshot().Address; got != "Henri Dunant Rd" {
		t.Errorf("expected address never to go blank, got %q", got)
	}
}

func TestTracker_NoGeocoderKeepsPlaceholder(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	if got := tr.Snapshot().Address; got != PlaceholderLocating {
		t.Errorf("expected placeholder address, got %q", got)
	}
}

func TestTracker_PermissionDenied(t *testing.T) {
	p := &fakeProvider{denied: true}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	snap := tr.Snapshot()
	if snap.Available {
		t.Error("expected location to be unavailable")
	}
	if snap.Address != PlaceholderDenied {
		t.Errorf("expected denied placeholder, got %q", snap.Address)
	}
	if len(p.subs) != 0 {
		t.Errorf("expected no subscription when permission is denied")
	}

	// Switching modes must not try to subscribe either
	tr.SetEmergency(true)
	if len(p.subs) != 0 {
		t.Errorf("expected no subscription after mode switch when denied")
	}
}

func TestTracker_BackgroundLifecycle(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	tr.Background()
	if n := len(p.active()); n != 0 {
		t.Fatalf("expected subscription torn down in background, got %d", n)
	}
	if tr.Snapshot().Watching {
		t.Error("expected Watching=false in background")
	}

	// Emergency while backgrounded re-establishes in emergency mode
	tr.SetEmergency(true)
	subs := p.active()
	if len(subs) != 1 || subs[0].opts.Accuracy != AccuracyHigh {
		t.Fatalf("expected emergency subscription while backgrounded, got %d", len(subs))
	}

	// Emergency ends while still backgrounded
	tr.SetEmergency(false)
	if n := len(p.active()); n != 0 {
		t.Errorf("expected subscription torn down once emergency ends in background, got %d", n)
	}

	tr.Foreground()
	subs = p.active()
	if len(subs) != 1 || subs[0].opts.Accuracy != AccuracyBalanced {
		t.Errorf("expected normal subscription after foregrounding")
	}
}

func TestTracker_StaleSubscriptionIgnored(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	old := p.subs[0]
	tr.SetEmergency(true)

	stale := models.Coordinates{Latitude: 1, Longitude: 1}
	old.fn(stale)
	if tr.Snapshot().Coordinates == stale {
		t.Error("sample from a torn-down subscription was applied")
	}
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTracker(p, nil)
	tr.Start(context.Background())

	tr.Stop()
	tr.Stop()

	if p.subs[0].unsubscribed != 1 {
		t.Errorf("expected exactly one unsubscribe, got %d", p.subs[0].unsubscribed)
	}
}

func TestTracker_OlderGeocodeDoesNotOverwriteNewer(t *testing.T) {
	p := &fakeProvider{}
	g := newSlowGeocoder()
	tr := newTestTracker(p, g)
	tr.Start(context.Background())
	defer tr.Stop()

	gen := tr.currentGen()
	tr.handle(gen, models.Coordinates{Latitude: 10, Longitude: 10})
	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("first lookup never started")
	}

	tr.handle(gen, models.Coordinates{Latitude: 20, Longitude: 20})
	waitForAddress(t, tr, "second")

	close(g.release)
	tr.lookups.Wait()

	if got := tr.Snapshot().Address; got != "second" {
		t.Errorf("older lookup overwrote newer address: %q", got)
	}
}

func TestTracker_SlowGeocoderDoesNotBlockSamples(t *testing.T) {
	p := &fakeProvider{}
	g := newSlowGeocoder()
	tr := newTestTracker(p, g)
	tr.Start(context.Background())
	defer tr.Stop()

	sample := models.Coordinates{Latitude: 10, Longitude: 10}
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.emit(sample)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sample delivery waited on the geocoder")
	}
	if got := tr.Snapshot().Coordinates; got != sample {
		t.Errorf("expected coordinates %v, got %v", sample, got)
	}
	close(g.release)
}

func TestTracker_ModeSwitchDuringSlowGeocode(t *testing.T) {
	route := []models.Coordinates{
		{Latitude: 10, Longitude: 10},
		{Latitude: 10.5, Longitude: 10.5},
	}
	cfg := DefaultConfig(hospital)
	cfg.Normal.Interval = time.Millisecond
	cfg.Normal.DistanceFilterM = 0
	cfg.GeocodeTimeout = time.Minute
	g := newSlowGeocoder()
	tr := NewTracker(NewReplayProvider(route), g, cfg)

	tr.Start(context.Background())
	defer tr.Stop()

	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("lookup never started")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.SetEmergency(true)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("switching to emergency mode waited on the geocoder")
	}
	if snap := tr.Snapshot(); snap.Mode != ModeEmergency || !snap.Watching {
		t.Errorf("expected an emergency watch, got %+v", snap)
	}
	close(g.release)
}

// slowGeocoder blocks lookups at latitude 10 until released or cancelled.
type slowGeocoder struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newSlowGeocoder() *slowGeocoder {
	return &slowGeocoder{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *slowGeocoder) ReverseGeocode(ctx context.Context, c models.Coordinates) (models.Address, error) {
	if c.Latitude != 10 {
		return models.Address{Street: "second"}, nil
	}
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return models.Address{Street: "first"}, nil
	case <-ctx.Done():
		return models.Address{}, ctx.Err()
	}
}

func waitForAddress(t *testing.T, tr *Tracker, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.Snapshot().Address == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("address never became %q, got %q", want, tr.Snapshot().Address)
}
