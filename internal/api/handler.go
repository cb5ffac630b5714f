package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mr1hm/acs-fasttrack/internal/auth"
	"github.com/mr1hm/acs-fasttrack/internal/events"
	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/pager"
	"github.com/mr1hm/acs-fasttrack/internal/repository"
	"github.com/mr1hm/acs-fasttrack/internal/worker"
)

type UpdateType string

const (
	UpdateCreated   UpdateType = "created"
	UpdateCancelled UpdateType = "cancelled"
	UpdateResolved  UpdateType = "resolved"
)

// Update is pushed to the staff dashboard stream.
type Update struct {
	Type      UpdateType       `json:"type"`
	Emergency models.Emergency `json:"emergency"`
}

// Queue accepts newly created emergencies for paging.
type Queue interface {
	Submit(e *models.Emergency) error
}

type Config struct {
	JWTSecret []byte
	TokenTTL  time.Duration
	DevTokens bool
}

type Handler struct {
	repo    repository.EmergencyRepository
	queue   Queue
	updates *events.Broadcaster[Update]
	cfg     Config
	now     func() time.Time
}

func NewHandler(repo repository.EmergencyRepository, queue Queue, updates *events.Broadcaster[Update], cfg Config) *Handler {
	return &Handler{
		repo:    repo,
		queue:   queue,
		updates: updates,
		cfg:     cfg,
		now:     time.Now,
	}
}

// NewPageProcessor returns the worker job that announces a new emergency
// on the dashboard stream and pages on-call staff.
func NewPageProcessor(p pager.Pager, updates *events.Broadcaster[Update]) worker.ProcessFunc[*models.Emergency] {
	return func(ctx context.Context, e *models.Emergency) error {
		updates.Broadcast(Update{Type: UpdateCreated, Emergency: *e})
		return p.Page(ctx, e)
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	if h.cfg.DevTokens {
		r.POST("/api/auth/dev-token", h.devToken)
	}

	patient := r.Group("/api/emergency", auth.Middleware(h.cfg.JWTSecret))
	patient.POST("/request", h.requestEmergency)
	patient.POST("/cancel", h.cancelEmergency)
	patient.GET("/:id", h.getEmergency)

	// Staff side of the simulator.
	r.POST("/api/emergency/:id/resolve", h.resolveEmergency)
	r.GET("/api/emergencies", h.listEmergencies)
	r.GET("/api/emergencies/stream", h.stream)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) requestEmergency(c *gin.Context) {
	var p models.EmergencyPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid emergency payload", "detail": err.Error()})
		return
	}

	ctx := c.Request.Context()
	patientID := c.GetString(auth.PatientIDKey)
	key := c.GetHeader("Idempotency-Key")
	if p.PatientName == "" {
		p.PatientName = c.GetString(auth.PatientNameKey)
	}
	if p.PatientName == "" {
		p.PatientName = patientID
	}

	if key != "" {
		existing, err := h.repo.GetByIdempotencyKey(ctx, patientID, key)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"emergency_id": existing.ID, "status": existing.Status})
			return
		case !errors.Is(err, repository.ErrNotFound):
			slog.Error("error checking idempotency key", "patient_id", patientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record emergency"})
			return
		}
	}

	now := h.now()
	e := &models.Emergency{
		ID:             uuid.NewString(),
		PatientID:      patientID,
		PatientName:    p.PatientName,
		EmergencyType:  p.EmergencyType,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Address:        p.CurrentAddress,
		DistanceKm:     p.DistanceToHospital,
		Status:         models.EmergencyStatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.repo.Add(ctx, e); err != nil {
		slog.Error("error adding emergency", "patient_id", patientID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record emergency"})
		return
	}

	if err := h.queue.Submit(e); err != nil {
		// Still visible on the dashboard even if nobody gets paged.
		slog.Warn("page queue rejected emergency", "emergency_id", e.ID, "error", err)
		h.updates.Broadcast(Update{Type: UpdateCreated, Emergency: *e})
	}

	slog.Info("emergency received",
		"emergency_id", e.ID,
		"patient_id", patientID,
		"distance_km", e.DistanceKm,
	)
	c.JSON(http.StatusCreated, gin.H{"emergency_id": e.ID, "status": e.Status})
}

func (h *Handler) cancelEmergency(c *gin.Context) {
	var p models.CancelPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emergency_id is required"})
		return
	}

	e, ok := h.ownEmergency(c, p.EmergencyID)
	if !ok {
		return
	}

	switch e.Status {
	case models.EmergencyStatusCancelled:
		c.JSON(http.StatusOK, gin.H{"emergency_id": e.ID, "status": e.Status})
		return
	case models.EmergencyStatusResolved:
		c.JSON(http.StatusConflict, gin.H{"error": "emergency already resolved"})
		return
	}

	if !h.setStatus(c, e, models.EmergencyStatusCancelled) {
		return
	}
	h.updates.Broadcast(Update{Type: UpdateCancelled, Emergency: *e})

	slog.Info("emergency cancelled by patient", "emergency_id", e.ID)
	c.JSON(http.StatusOK, gin.H{"emergency_id": e.ID, "status": e.Status})
}

func (h *Handler) getEmergency(c *gin.Context) {
	e, ok := h.ownEmergency(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) resolveEmergency(c *gin.Context) {
	e, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "emergency not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emergency"})
		return
	}

	switch e.Status {
	case models.EmergencyStatusResolved:
		c.JSON(http.StatusOK, gin.H{"emergency_id": e.ID, "status": e.Status})
		return
	case models.EmergencyStatusCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": "emergency was cancelled by the patient"})
		return
	}

	if !h.setStatus(c, e, models.EmergencyStatusResolved) {
		return
	}
	h.updates.Broadcast(Update{Type: UpdateResolved, Emergency: *e})

	slog.Info("emergency resolved", "emergency_id", e.ID)
	c.JSON(http.StatusOK, gin.H{"emergency_id": e.ID, "status": e.Status})
}

func (h *Handler) listEmergencies(c *gin.Context) {
	status := models.EmergencyStatusPending
	filter := repository.Filter{
		Limit:  100,
		Status: &status,
	}

	switch s := c.Query("status"); s {
	case "":
	case "all":
		filter.Status = nil
	case string(models.EmergencyStatusPending), string(models.EmergencyStatusCancelled), string(models.EmergencyStatusResolved):
		status = models.EmergencyStatus(s)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	emergencies, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch emergencies",
		})
		return
	}

	fc := toGeoJSON(emergencies)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

// stream pushes dashboard updates as server-sent events until the client
// disconnects or the broadcaster closes.
func (h *Handler) stream(c *gin.Context) {
	id, ch := h.updates.Subscribe()
	defer h.updates.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(u.Type), u)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type devTokenRequest struct {
	PatientID string `json:"patient_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
}

func (h *Handler) devToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patient_id and name are required"})
		return
	}

	token, err := auth.IssueToken(h.cfg.JWTSecret, req.PatientID, req.Name, h.cfg.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.cfg.TokenTTL.Seconds()),
	})
}

// ownEmergency loads id and checks it belongs to the authenticated patient.
// Other patients' emergencies are reported as not found.
func (h *Handler) ownEmergency(c *gin.Context, id string) (*models.Emergency, bool) {
	e, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emergency"})
		return nil, false
	}
	if err != nil || e.PatientID != c.GetString(auth.PatientIDKey) {
		c.JSON(http.StatusNotFound, gin.H{"error": "emergency not found"})
		return nil, false
	}
	return e, true
}

func (h *Handler) setStatus(c *gin.Context, e *models.Emergency, status models.EmergencyStatus) bool {
	now := h.now()
	err := h.repo.UpdateStatus(c.Request.Context(), e.ID, status, now)
	if errors.Is(err, repository.ErrConflict) {
		h.conflict(c, e.ID, status)
		return false
	}
	if err != nil {
		slog.Error("error updating emergency", "emergency_id", e.ID, "status", status, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update emergency"})
		return false
	}
	e.Status = status
	e.UpdatedAt = now
	return true
}

// conflict answers a transition that lost a race with another one. Reaching
// the requested status anyway is reported as success.
func (h *Handler) conflict(c *gin.Context, id string, status models.EmergencyStatus) {
	current, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emergency"})
		return
	}
	if current.Status == status {
		c.JSON(http.StatusOK, gin.H{"emergency_id": current.ID, "status": current.Status})
		return
	}
	slog.Warn("emergency status changed concurrently", "emergency_id", id, "wanted", status, "status", current.Status)
	c.JSON(http.StatusConflict, gin.H{"error": "emergency is already " + string(current.Status)})
}
