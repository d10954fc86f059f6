package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
)

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Name() string { return "mock" }

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	args := m.Called(ctx, point)
	return args.String(0), args.Error(1)
}

func TestLegacyGeocoder_ReverseGeocode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.001,4.001", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("output"))
		_, _ = w.Write([]byte(`{"Status":{"code":200},"Placemark":[{"address":"Damrak 1, Amsterdam"},{"address":"Netherlands"}]}`))
	}))
	defer server.Close()

	g := NewLegacyGeocoder(server.URL, time.Second)
	label, err := g.ReverseGeocode(context.Background(), geo.Point{Latitude: 52.001, Longitude: 4.001})

	require.NoError(t, err)
	assert.Equal(t, "Damrak 1, Amsterdam", label)
	assert.Equal(t, "legacy", g.Name())
}

func TestLegacyGeocoder_ReverseGeocode_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"malformed json", http.StatusOK, "{"},
		{"no placemark", http.StatusOK, `{"Status":{"code":602}}`},
		{"empty address", http.StatusOK, `{"Placemark":[{"address":""}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewLegacyGeocoder(server.URL, time.Second).ReverseGeocode(context.Background(), geo.Point{})

			assert.ErrorIs(t, err, ErrGeocodeFailure)
		})
	}
}

func TestLegacyGeocoder_ReverseGeocode_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewLegacyGeocoder(url, time.Second).ReverseGeocode(context.Background(), geo.Point{})

	assert.ErrorIs(t, err, ErrGeocodeFailure)
}

func TestGoogleMapsGeocoder_ReverseGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"Dam, 1012 Amsterdam, Netherlands"}]}`))
	}))
	defer server.Close()

	g, err := NewGoogleMapsGeocoder("AIzaTestKey", time.Second, maps.WithBaseURL(server.URL))
	require.NoError(t, err)

	label, err := g.ReverseGeocode(context.Background(), geo.Point{Latitude: 52.373, Longitude: 4.893})

	require.NoError(t, err)
	assert.Equal(t, "Dam, 1012 Amsterdam, Netherlands", label)
}

func TestCachingGeocoder_CachesPerCell(t *testing.T) {
	next := new(mockGeocoder)
	next.On("ReverseGeocode", mock.Anything, mock.Anything).Return("Dam Square", nil).Once()

	c := NewCachingGeocoder(next, 7, time.Hour)

	first, err := c.ReverseGeocode(context.Background(), geo.Point{Latitude: 52.37310, Longitude: 4.89320})
	require.NoError(t, err)
	// A few metres away, same geohash cell.
	second, err := c.ReverseGeocode(context.Background(), geo.Point{Latitude: 52.37311, Longitude: 4.89321})
	require.NoError(t, err)

	assert.Equal(t, "Dam Square", first)
	assert.Equal(t, "Dam Square", second)
	assert.Equal(t, 1, c.Len())
	next.AssertNumberOfCalls(t, "ReverseGeocode", 1)
}

func TestCachingGeocoder_ExpiresEntries(t *testing.T) {
	next := new(mockGeocoder)
	next.On("ReverseGeocode", mock.Anything, mock.Anything).Return("Dam Square", nil)

	now := time.Date(2011, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewCachingGeocoder(next, 7, time.Minute)
	c.now = func() time.Time { return now }

	point := geo.Point{Latitude: 52.3731, Longitude: 4.8932}
	_, err := c.ReverseGeocode(context.Background(), point)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.ReverseGeocode(context.Background(), point)
	require.NoError(t, err)

	next.AssertNumberOfCalls(t, "ReverseGeocode", 2)
}

func TestCachingGeocoder_DoesNotCacheFailures(t *testing.T) {
	next := new(mockGeocoder)
	next.On("ReverseGeocode", mock.Anything, mock.Anything).Return("", errors.New("boom")).Once()
	next.On("ReverseGeocode", mock.Anything, mock.Anything).Return("Dam Square", nil).Once()

	c := NewCachingGeocoder(next, 7, time.Hour)
	point := geo.Point{Latitude: 52.3731, Longitude: 4.8932}

	_, err := c.ReverseGeocode(context.Background(), point)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	label, err := c.ReverseGeocode(context.Background(), point)
	require.NoError(t, err)
	assert.Equal(t, "Dam Square", label)
	assert.Equal(t, "cached-mock", c.Name())
}
