package api

import (
	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(emergencies []models.Emergency) FeatureCollection {
	features := make([]Feature, 0, len(emergencies))

	for _, e := range emergencies {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{e.Longitude, e.Latitude},
			},
			Properties: map[string]any{
				"emergency_id":         e.ID,
				"patient_name":         e.PatientName,
				"emergency_type":       e.EmergencyType,
				"status":               e.Status,
				"current_address":      e.Address,
				"distance_to_hospital": e.DistanceKm,
				"eta_seconds":          geo.TravelTimeSeconds(e.DistanceKm),
				"created_at":           e.CreatedAt,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
