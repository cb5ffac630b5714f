package geo

import (
	"fmt"
	"math"

	"github.com/mr1hm/acs-fasttrack/internal/models"
)

const (
	EarthRadiusKm = 6371.0
	degToRad      = math.Pi / 180.0

	// Response-team travel model.
	AvgSpeedKmh      = 60.0
	PrepMinutes      = 2.0
	MinTravelMinutes = 3.0
)

// DistanceKm returns the great-circle distance between a and b, rounded to
// two decimal places.
func DistanceKm(a, b models.Coordinates) float64 {
	return Round(haversineKm(a, b), 2)
}

// DistanceMeters is the unrounded great-circle distance in meters.
func DistanceMeters(a, b models.Coordinates) float64 {
	return haversineKm(a, b) * 1000
}

func haversineKm(a, b models.Coordinates) float64 {
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	dLat := (b.Latitude - a.Latitude) * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// TravelTimeSeconds estimates how long the response team needs to reach a
// patient distanceKm away. Never less than MinTravelMinutes.
func TravelTimeSeconds(distanceKm float64) int {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	minutes := math.Max(MinTravelMinutes, distanceKm/AvgSpeedKmh*60+PrepMinutes)
	return int(math.Round(minutes * 60))
}

// FormatCountdown renders seconds as MM:SS.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
