package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/models"
)

const (
	PlaceholderLocating = "Locating..."
	PlaceholderDenied   = "Location permission denied"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModeEmergency
)

func (m Mode) String() string {
	if m == ModeEmergency {
		return "emergency"
	}
	return "normal"
}

type Config struct {
	Hospital       models.Coordinates
	Normal         WatchOptions
	Emergency      WatchOptions
	GeocodeTimeout time.Duration
}

func DefaultConfig(hospital models.Coordinates) Config {
	return Config{
		Hospital:       hospital,
		Normal:         WatchOptions{Accuracy: AccuracyBalanced, DistanceFilterM: 100, Interval: time.Minute},
		Emergency:      WatchOptions{Accuracy: AccuracyHigh, DistanceFilterM: 5, Interval: 5 * time.Second},
		GeocodeTimeout: 5 * time.Second,
	}
}

type Snapshot struct {
	Coordinates models.Coordinates
	Address     string
	DistanceKm  float64
	HasFix      bool
	Available   bool
	Mode        Mode
	Watching    bool
	UpdatedAt   time.Time
}

// Tracker keeps a best-effort estimate of the patient's position and its
// distance to the hospital.
type Tracker struct {
	provider Provider
	geocoder Geocoder
	cfg      Config
	onUpdate func(Snapshot)

	// subMu serializes subscription changes; mu guards the snapshot.
	subMu sync.Mutex
	sub   Subscription

	// lookups tracks reverse geocodes running off the watch callback.
	lookups sync.WaitGroup

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	emergency  bool
	background bool
	watchGen   uint64
	seq        uint64
	addrSeq    uint64
	snap       Snapshot
}

// NewTracker creates a tracker. geocoder may be nil.
func NewTracker(provider Provider, geocoder Geocoder, cfg Config) *Tracker {
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 5 * time.Second
	}
	return &Tracker{
		provider: provider,
		geocoder: geocoder,
		cfg:      cfg,
		snap: Snapshot{
			Address:   PlaceholderLocating,
			Available: true,
		},
	}
}

// OnUpdate registers a callback for every applied sample and resolved
// address. Must be called before Start.
func (t *Tracker) OnUpdate(fn func(Snapshot)) {
	t.onUpdate = fn
}

func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.started = true
	t.mu.Unlock()

	pos, err := t.provider.CurrentPosition(ctx)
	switch {
	case errors.Is(err, ErrPermissionDenied):
		t.markDenied()
		return
	case err != nil:
		slog.Warn("initial position unavailable", "error", err)
	default:
		t.handle(t.currentGen(), pos)
	}

	t.refresh()
}

// Stop tears down the subscription, cancels pending geocode lookups and waits
// for them to return.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.started = false
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.subMu.Lock()
	t.teardownLocked()
	t.subMu.Unlock()

	t.lookups.Wait()
}

// SetEmergency switches between the power-saving and the high-accuracy mode.
func (t *Tracker) SetEmergency(active bool) {
	t.mu.Lock()
	t.emergency = active
	t.mu.Unlock()
	t.refresh()
}

// Background drops the subscription unless an emergency is active.
func (t *Tracker) Background() {
	t.mu.Lock()
	t.background = true
	t.mu.Unlock()
	t.refresh()
}

func (t *Tracker) Foreground() {
	t.mu.Lock()
	t.background = false
	t.mu.Unlock()
	t.refresh()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) refresh() {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.mu.Lock()
	started := t.started
	available := t.snap.Available
	want := t.started && available && (!t.background || t.emergency)
	mode := ModeNormal
	if t.emergency {
		mode = ModeEmergency
	}
	current := t.snap.Mode
	watching := t.snap.Watching
	t.mu.Unlock()

	if !want {
		if t.sub != nil && started && available {
			slog.Info("location watch paused while in background")
		}
		t.teardownLocked()
		return
	}
	if watching && current == mode && t.sub != nil {
		return
	}

	t.teardownLocked()

	t.mu.Lock()
	t.watchGen++
	gen := t.watchGen
	t.mu.Unlock()

	opts := t.cfg.Normal
	if mode == ModeEmergency {
		opts = t.cfg.Emergency
	}
	sub, err := t.provider.Watch(opts, func(c models.Coordinates) { t.handle(gen, c) })
	if errors.Is(err, ErrPermissionDenied) {
		t.markDenied()
		return
	}
	if err != nil {
		slog.Error("failed to watch position", "mode", mode, "error", err)
		return
	}

	t.sub = sub
	t.mu.Lock()
	t.snap.Mode = mode
	t.snap.Watching = true
	t.mu.Unlock()
	slog.Info("location watch started", "mode", mode, "accuracy", opts.Accuracy, "interval", opts.Interval, "distance_filter_m", opts.DistanceFilterM)
}

func (t *Tracker) teardownLocked() {
	if t.sub == nil {
		return
	}
	t.sub.Unsubscribe()
	t.sub = nil

	t.mu.Lock()
	t.watchGen++
	t.snap.Watching = false
	t.mu.Unlock()
}

func (t *Tracker) currentGen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watchGen
}

func (t *Tracker) handle(gen uint64, c models.Coordinates) {
	t.mu.Lock()
	if gen != t.watchGen {
		t.mu.Unlock()
		return
	}
	t.seq++
	seq := t.seq
	t.snap.Coordinates = c
	t.snap.DistanceKm = geo.DistanceKm(c, t.cfg.Hospital)
	t.snap.HasFix = true
	t.snap.UpdatedAt = time.Now()
	ctx := t.ctx
	lookup := t.geocoder != nil && t.started
	if lookup {
		t.lookups.Add(1)
	}
	t.mu.Unlock()

	if lookup {
		go func() {
			defer t.lookups.Done()
			if t.resolveAddress(ctx, seq, c) && t.onUpdate != nil {
				t.onUpdate(t.Snapshot())
			}
		}()
	}

	if t.onUpdate != nil {
		t.onUpdate(t.Snapshot())
	}
}

// resolveAddress looks up the address for sample seq and reports whether it
// was applied. Results for samples older than the current address are dropped.
func (t *Tracker) resolveAddress(ctx context.Context, seq uint64, c models.Coordinates) bool {
	gctx, cancel := context.WithTimeout(ctx, t.cfg.GeocodeTimeout)
	defer cancel()

	addr, err := t.geocoder.ReverseGeocode(gctx, c)
	if err != nil {
		slog.Debug("reverse geocode failed, keeping previous address", "error", err)
		return false
	}
	text := addr.String()
	if text == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < t.addrSeq {
		return false
	}
	t.addrSeq = seq
	t.snap.Address = text
	return true
}

func (t *Tracker) markDenied() {
	t.mu.Lock()
	t.snap.Available = false
	t.snap.Address = PlaceholderDenied
	t.mu.Unlock()
	slog.Warn("location permission denied, location features disabled")
}
