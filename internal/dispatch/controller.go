// Package dispatch drives an emergency request from confirmation to
// cancellation: Idle -> Submitting -> Active -> Idle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/client"
	"github.com/mr1hm/acs-fasttrack/internal/clock"
	"github.com/mr1hm/acs-fasttrack/internal/events"
	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/location"
	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/session"
)

const (
	DefaultSubmitTimeout   = 8 * time.Second
	DefaultCancelTimeout   = 8 * time.Second
	DefaultEmergencyNumber = "1669"
)

var (
	// ErrBusy is returned by Confirm while a request is pending or active,
	// and by Cancel while a cancellation is already in flight.
	ErrBusy    = errors.New("emergency request already in progress")
	ErrOffline = errors.New("no network connectivity")
	ErrNoFix   = errors.New("location not available")
)

// Client is the part of the backend client the controller needs.
type Client interface {
	SubmitEmergency(ctx context.Context, p models.EmergencyPayload) (string, error)
	CancelEmergency(ctx context.Context, emergencyID string) error
}

type LocationSource interface {
	Snapshot() location.Snapshot
	SetEmergency(active bool)
}

type Connectivity interface {
	Online() bool
}

type Config struct {
	SubmitTimeout   time.Duration
	CancelTimeout   time.Duration
	Hospital        models.Coordinates
	EmergencyNumber string
	EmergencyType   string
}

// Deps are the collaborators of a Controller. Connectivity, Dialer, Clock
// and Events are optional.
type Deps struct {
	Session      *session.Session
	Client       Client
	Location     LocationSource
	Connectivity Connectivity
	Dialer       Dialer
	Clock        clock.Clock
	Events       *events.Broadcaster[Event]
}

type Snapshot struct {
	State       State
	EmergencyID string
	Remaining   int
	Request     *models.EmergencyRequest
}

type Controller struct {
	cfg      Config
	session  *session.Session
	client   Client
	location LocationSource
	conn     Connectivity
	dialer   Dialer
	clock    clock.Clock
	events   *events.Broadcaster[Event]

	// modeMu orders location mode changes so the last one applied always
	// matches the latest state.
	modeMu sync.Mutex

	mu         sync.Mutex
	state      State
	attempt    uint64
	request    *models.EmergencyRequest
	remaining  int
	cancelling bool
	abort      context.CancelFunc
	timeout    clock.Timer
	countdown  clock.Timer

	wg sync.WaitGroup
}

func NewController(cfg Config, deps Deps) *Controller {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if cfg.EmergencyNumber == "" {
		cfg.EmergencyNumber = DefaultEmergencyNumber
	}
	if cfg.EmergencyType == "" {
		cfg.EmergencyType = models.EmergencyTypeACS
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Dialer == nil {
		deps.Dialer = LogDialer{}
	}
	if deps.Events == nil {
		deps.Events = events.NewBroadcaster[Event](events.DefaultBuffer)
	}

	return &Controller{
		cfg:      cfg,
		session:  deps.Session,
		client:   deps.Client,
		location: deps.Location,
		conn:     deps.Connectivity,
		dialer:   deps.Dialer,
		clock:    deps.Clock,
		events:   deps.Events,
	}
}

func (c *Controller) Events() *events.Broadcaster[Event] {
	return c.events
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enabled reports whether a new request may be confirmed.
func (c *Controller) Enabled() bool {
	return c.State() == StateIdle
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{State: c.state, Remaining: c.remaining}
	if c.request != nil {
		req := *c.request
		s.Request = &req
		s.EmergencyID = req.EmergencyID
	}
	return s
}

// Confirm submits a new emergency request. It never blocks on the network;
// the outcome is reported through events. Failures that leave the
// controller Idle are returned for logging only, the user-facing message
// and the fallback prompt have already been published.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.conn != nil && !c.conn.Online() {
		c.publishLocked(Event{Kind: EventError, Message: "No internet connection."})
		c.publishFallbackLocked()
		c.mu.Unlock()
		slog.Warn("emergency request refused", "error", ErrOffline)
		return ErrOffline
	}

	snap := c.location.Snapshot()
	if !snap.HasFix {
		c.publishLocked(Event{Kind: EventError, Message: "Your location is not available yet."})
		c.publishFallbackLocked()
		c.mu.Unlock()
		slog.Warn("emergency request refused", "error", ErrNoFix, "location_available", snap.Available)
		return ErrNoFix
	}

	req := &models.EmergencyRequest{
		Coordinates: snap.Coordinates,
		Address:     reportedAddress(snap),
		DistanceKm:  geo.DistanceKm(snap.Coordinates, c.cfg.Hospital),
		CreatedAt:   c.clock.Now(),
	}
	if c.session != nil {
		req.PatientName = c.session.DisplayName()
	}

	c.attempt++
	attempt := c.attempt
	submitCtx, abort := context.WithCancel(ctx)
	c.abort = abort
	c.state = StateSubmitting
	c.request = req
	c.timeout = c.clock.AfterFunc(c.cfg.SubmitTimeout, func() { c.expire(attempt) })
	c.publishStateLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	slog.Info("submitting emergency request",
		"attempt", attempt,
		"distance_km", req.DistanceKm,
		"location", req.Coordinates.String(),
	)
	go c.submit(submitCtx, attempt, req.Payload(c.cfg.EmergencyType))

	c.syncLocationMode()
	return nil
}

// Cancel withdraws the current request. The caller is responsible for
// asking the user to confirm first. Local state is reset to Idle even when
// the backend cannot be reached; the returned error only reports that the
// server may still consider the request open.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.cancelling {
		c.mu.Unlock()
		return ErrBusy
	}

	var id string
	if c.request != nil {
		id = c.request.EmergencyID
	}
	if id == "" {
		c.resetLocked()
		c.publishStateLocked()
		c.mu.Unlock()
		slog.Info("emergency request withdrawn before acknowledgement")
		c.syncLocationMode()
		return nil
	}

	c.cancelling = true
	attempt := c.attempt
	c.mu.Unlock()

	cancelCtx, stop := context.WithCancel(ctx)
	t := c.clock.AfterFunc(c.cfg.CancelTimeout, stop)
	err := c.client.CancelEmergency(cancelCtx, id)
	t.Stop()
	stop()

	c.mu.Lock()
	c.cancelling = false
	if attempt == c.attempt {
		c.resetLocked()
		if err != nil {
			c.publishLocked(Event{
				Kind:        EventWarning,
				EmergencyID: id,
				Message:     "Cancelled on this device, but the hospital may not have received the cancellation.",
			})
		}
		c.publishStateLocked()
	}
	c.mu.Unlock()
	c.syncLocationMode()

	if err != nil {
		slog.Warn("emergency cancellation not confirmed by backend", "emergency_id", id, "error", err)
		return fmt.Errorf("error cancelling emergency %s: %w", id, err)
	}
	slog.Info("emergency request cancelled", "emergency_id", id)
	return nil
}

// CallEmergencyNumber places the direct call offered by fallback events.
func (c *Controller) CallEmergencyNumber() error {
	if err := c.dialer.Dial(c.cfg.EmergencyNumber); err != nil {
		return fmt.Errorf("error dialing %s: %w", c.cfg.EmergencyNumber, err)
	}

	c.mu.Lock()
	c.publishLocked(Event{Kind: EventDialed, Number: c.cfg.EmergencyNumber})
	c.mu.Unlock()
	return nil
}

// End tears down the controller for the end of a session: in-flight work is
// abandoned, timers stop, and state returns to Idle. It waits for the
// submission goroutine to exit.
func (c *Controller) End() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle
	c.resetLocked()
	if !wasIdle {
		c.publishStateLocked()
	}
	c.mu.Unlock()

	c.syncLocationMode()
	c.wg.Wait()
}

func (c *Controller) submit(ctx context.Context, attempt uint64, payload models.EmergencyPayload) {
	defer c.wg.Done()

	id, err := c.client.SubmitEmergency(ctx, payload)

	c.mu.Lock()
	if attempt != c.attempt || c.state != StateSubmitting {
		c.mu.Unlock()
		if err == nil {
			slog.Warn("discarding late emergency acknowledgement", "attempt", attempt, "emergency_id", id)
		}
		return
	}

	c.stopSubmitLocked()
	if err != nil {
		c.resetLocked()
		c.publishLocked(Event{Kind: EventError, Message: failureMessage(err)})
		c.publishStateLocked()
		c.publishFallbackLocked()
		c.mu.Unlock()

		slog.Error("emergency request failed", "attempt", attempt, "error", err)
		c.syncLocationMode()
		return
	}

	c.request.EmergencyID = id
	c.state = StateActive
	c.remaining = geo.TravelTimeSeconds(c.request.DistanceKm)
	c.countdown = clock.Every(c.clock, time.Second, func() { c.tick(attempt) })
	c.publishStateLocked()
	remaining := c.remaining
	c.mu.Unlock()

	slog.Info("emergency request acknowledged", "emergency_id", id, "eta_seconds", remaining)
}

func (c *Controller) expire(attempt uint64) {
	c.mu.Lock()
	if attempt != c.attempt || c.state != StateSubmitting {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.publishLocked(Event{Kind: EventError, Message: "The hospital did not respond in time."})
	c.publishStateLocked()
	c.publishFallbackLocked()
	c.mu.Unlock()

	slog.Error("emergency request timed out", "attempt", attempt, "timeout", c.cfg.SubmitTimeout)
	c.syncLocationMode()
}

func (c *Controller) tick(attempt uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempt != c.attempt || c.state != StateActive || c.remaining <= 0 {
		return
	}
	c.remaining--
	c.publishLocked(Event{Kind: EventCountdown, EmergencyID: c.request.EmergencyID, Remaining: c.remaining})
	if c.remaining == 0 && c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

// resetLocked returns to Idle and supersedes every pending callback.
func (c *Controller) resetLocked() {
	c.stopSubmitLocked()
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.attempt++
	c.state = StateIdle
	c.request = nil
	c.remaining = 0
}

func (c *Controller) stopSubmitLocked() {
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
}

func (c *Controller) syncLocationMode() {
	if c.location == nil {
		return
	}
	c.modeMu.Lock()
	defer c.modeMu.Unlock()

	c.location.SetEmergency(c.State() != StateIdle)
}

func (c *Controller) publishStateLocked() {
	ev := Event{Kind: EventStateChanged, Remaining: c.remaining}
	if c.request != nil {
		ev.EmergencyID = c.request.EmergencyID
	}
	c.publishLocked(ev)
}

func (c *Controller) publishFallbackLocked() {
	c.publishLocked(Event{
		Kind:    EventFallback,
		Number:  c.cfg.EmergencyNumber,
		Message: fmt.Sprintf("Call %s for immediate help.", c.cfg.EmergencyNumber),
	})
}

func (c *Controller) publishLocked(ev Event) {
	ev.State = c.state
	ev.At = c.clock.Now()
	c.events.Broadcast(ev)
}

// reportedAddress falls back to the coordinates while no street address is
// known.
func reportedAddress(snap location.Snapshot) string {
	switch snap.Address {
	case "", location.PlaceholderLocating, location.PlaceholderDenied:
		return snap.Coordinates.String()
	}
	return snap.Address
}

func failureMessage(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.As(err, &apiErr):
		return fmt.Sprintf("The hospital rejected the request (%d).", apiErr.Status)
	case errors.Is(err, client.ErrInvalidPayload):
		return "The emergency request could not be prepared."
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrNoToken):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The hospital did not respond in time."
	default:
		return "Could not reach the hospital."
	}
}
