package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean earth radius used for all distance calculations.
const EarthRadiusKm = 6371.0

// Point is a (latitude, longitude) pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Valid reports whether the point is a finite coordinate with latitude in [-90, 90]
// and longitude in [-180, 180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	if math.Abs(p.Longitude) > 180 {
		return false
	}
	return s2.LatLngFromDegrees(p.Latitude, p.Longitude).IsValid()
}

// DistanceKm returns the great-circle distance between a and b using the haversine formula.
// NaN inputs propagate to the result.
func DistanceKm(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude) - toRadians(a.Longitude)

	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
