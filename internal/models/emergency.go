package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const EmergencyTypeACS = "ACS"

type EmergencyStatus string

const (
	EmergencyStatusPending   EmergencyStatus = "pending"
	EmergencyStatusCancelled EmergencyStatus = "cancelled"
	EmergencyStatusResolved  EmergencyStatus = "resolved"
)

// EmergencyPayload is the wire body of an emergency submission.
type EmergencyPayload struct {
	Latitude           float64 `json:"latitude" validate:"latitude"`
	Longitude          float64 `json:"longitude" validate:"longitude"`
	CurrentAddress     string  `json:"current_address"`
	DistanceToHospital float64 `json:"distance_to_hospital" validate:"gte=0"`
	PatientName        string  `json:"patient_name"`
	EmergencyType      string  `json:"emergency_type" validate:"required"`
}

type CancelPayload struct {
	EmergencyID string `json:"emergency_id" validate:"required"`
}

// EmergencyRequest is the client's in-memory view of a dispatch. It is never
// persisted on the device.
type EmergencyRequest struct {
	EmergencyID string // empty until the backend acknowledges
	Coordinates Coordinates
	Address     string
	DistanceKm  float64
	PatientName string
	CreatedAt   time.Time
}

func (r *EmergencyRequest) Payload(emergencyType string) EmergencyPayload {
	return EmergencyPayload{
		Latitude:           r.Coordinates.Latitude,
		Longitude:          r.Coordinates.Longitude,
		CurrentAddress:     r.Address,
		DistanceToHospital: r.DistanceKm,
		PatientName:        r.PatientName,
		EmergencyType:      emergencyType,
	}
}

// Emergency is the hospital-side record of a submitted request.
type Emergency struct {
	ID            string          `json:"emergency_id"`
	PatientID     string          `json:"patient_id"`
	PatientName   string          `json:"patient_name"`
	EmergencyType string          `json:"emergency_type"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Address       string          `json:"current_address"`
	DistanceKm    float64         `json:"distance_to_hospital"`
	Status        EmergencyStatus `json:"status"`
	// IdempotencyKey deduplicates retried submissions from one patient.
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Open reports whether the hospital still has to act on the emergency.
func (e *Emergency) Open() bool {
	return e.Status == EmergencyStatusPending
}

func (e *Emergency) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (p EmergencyPayload) Validate() error {
	return validate.Struct(p)
}

func (p CancelPayload) Validate() error {
	return validate.Struct(p)
}
