package geocode

import (
	"context"
	"errors"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
)

// ErrGeocodeFailure is returned when a coordinate could not be turned into a label.
var ErrGeocodeFailure = errors.New("geocode: reverse geocoding failed")

// Geocoder converts a coordinate into a human readable place label.
type Geocoder interface {
	Name() string
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}
