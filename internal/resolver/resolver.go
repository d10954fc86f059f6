package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/pkg/geo"
	"github.com/maartendamen/houseagent-latitude/pkg/geocode"
)

// LocationSource provides the current set of named locations.
type LocationSource interface {
	Locations() []models.NamedLocation
}

// Resolve returns the named location nearest to point that lies strictly within thresholdKm.
// Ties on distance go to the lexicographically smaller name. ok is false when no location
// qualifies and the caller should fall back to reverse geocoding.
func Resolve(point geo.Point, locations []models.NamedLocation, thresholdKm float64) (name string, ok bool) {
	sorted := make([]models.NamedLocation, len(locations))
	copy(sorted, locations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	best := -1.0
	for _, loc := range sorted {
		d := geo.DistanceKm(point, loc.Point())
		if !(d < thresholdKm) {
			continue
		}
		if !ok || d < best {
			name, best, ok = loc.Name, d, true
		}
	}
	return name, ok
}

// Resolver turns a position into the label published for an account.
type Resolver struct {
	source   LocationSource
	geocoder geocode.Geocoder
	logger   zerolog.Logger
}

// New creates a Resolver reading named locations from source and falling back to geocoder.
func New(source LocationSource, geocoder geocode.Geocoder, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source:   source,
		geocoder: geocoder,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Label resolves point against the named locations, then reverse geocodes it when none is close enough.
func (r *Resolver) Label(ctx context.Context, point geo.Point, thresholdKm float64) (string, error) {
	if name, ok := Resolve(point, r.source.Locations(), thresholdKm); ok {
		r.logger.Debug().Str("location", name).Msg("Matched named location")
		return name, nil
	}

	if r.geocoder == nil {
		return "", fmt.Errorf("%w: no geocoder configured", geocode.ErrGeocodeFailure)
	}

	label, err := r.geocoder.ReverseGeocode(ctx, point)
	if err != nil {
		return "", err
	}

	r.logger.Debug().
		Str("geocoder", r.geocoder.Name()).
		Str("label", label).
		Msg("Resolved position by reverse geocoding")
	return label, nil
}
