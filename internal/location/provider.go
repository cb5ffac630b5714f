package location

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/models"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	errNoRoute          = errors.New("replay route is empty")
)

type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

func (a Accuracy) String() string {
	if a == AccuracyHigh {
		return "high"
	}
	return "balanced"
}

type WatchOptions struct {
	Accuracy        Accuracy
	DistanceFilterM float64       // minimum movement between updates
	Interval        time.Duration // minimum time between updates
}

type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

// Provider is the device positioning service.
type Provider interface {
	CurrentPosition(ctx context.Context) (models.Coordinates, error)
	Watch(opts WatchOptions, fn func(models.Coordinates)) (Subscription, error)
}

// Geocoder resolves coordinates to a street address. Failures are expected.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coordinates) (models.Address, error)
}
