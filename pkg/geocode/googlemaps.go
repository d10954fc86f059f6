package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
	"googlemaps.github.io/maps"
)

// GoogleMapsGeocoder uses the Google Maps Geocoding API.
type GoogleMapsGeocoder struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleMapsGeocoder creates a GoogleMapsGeocoder. Extra client options are passed to maps.NewClient.
func NewGoogleMapsGeocoder(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*GoogleMapsGeocoder, error) {
	c, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}

	return &GoogleMapsGeocoder{
		client:  c,
		timeout: timeout,
	}, nil
}

// Name implements Geocoder.
func (g *GoogleMapsGeocoder) Name() string {
	return "googlemaps"
}

// ReverseGeocode implements Geocoder.
func (g *GoogleMapsGeocoder) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: point.Latitude, Lng: point.Longitude},
	}

	results, err := g.client.ReverseGeocode(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocodeFailure, err)
	}
	for _, r := range results {
		if r.FormattedAddress != "" {
			return r.FormattedAddress, nil
		}
	}

	return "", fmt.Errorf("%w: no results for %v,%v", ErrGeocodeFailure, point.Latitude, point.Longitude)
}
