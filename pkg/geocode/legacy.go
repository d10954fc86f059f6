package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
)

// LegacyGeocoder queries the maps/geo JSON endpoint and returns Placemark[0].address.
type LegacyGeocoder struct {
	endpoint   string
	httpClient *http.Client
}

// NewLegacyGeocoder creates a LegacyGeocoder for the given endpoint.
func NewLegacyGeocoder(endpoint string, timeout time.Duration) *LegacyGeocoder {
	return &LegacyGeocoder{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Geocoder.
func (g *LegacyGeocoder) Name() string {
	return "legacy"
}

type legacyResponse struct {
	Placemark []struct {
		Address string `json:"address"`
	} `json:"Placemark"`
}

// ReverseGeocode implements Geocoder.
func (g *LegacyGeocoder) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	q := strconv.FormatFloat(point.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(point.Longitude, 'f', -1, 64)
	reqURL := g.endpoint + "?" + url.Values{"q": {q}, "output": {"json"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocodeFailure, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", ErrGeocodeFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: endpoint returned status %d", ErrGeocodeFailure, resp.StatusCode)
	}

	var lr legacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", ErrGeocodeFailure, err)
	}
	if len(lr.Placemark) == 0 || strings.TrimSpace(lr.Placemark[0].Address) == "" {
		return "", fmt.Errorf("%w: no placemark for %s", ErrGeocodeFailure, q)
	}

	return lr.Placemark[0].Address, nil
}
