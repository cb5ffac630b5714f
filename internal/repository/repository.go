package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/models"
)

var (
	ErrNotFound = errors.New("emergency not found")
	ErrConflict = errors.New("emergency is no longer pending")
)

type Filter struct {
	Limit     int
	Offset    int
	Since     *time.Time
	Status    *models.EmergencyStatus
	PatientID string
}

type EmergencyRepository interface {
	Add(ctx context.Context, e *models.Emergency) error
	GetByID(ctx context.Context, id string) (*models.Emergency, error)
	// GetByIdempotencyKey returns ErrNotFound when the patient has not used
	// key before.
	GetByIdempotencyKey(ctx context.Context, patientID, key string) (*models.Emergency, error)
	List(ctx context.Context, opts Filter) ([]models.Emergency, error)
	// UpdateStatus moves a pending emergency to status. It returns ErrConflict
	// when the emergency has already left the pending state.
	UpdateStatus(ctx context.Context, id string, status models.EmergencyStatus, at time.Time) error
}
