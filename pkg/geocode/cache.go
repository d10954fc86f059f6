package geocode

import (
	"context"
	"time"

	geohash "github.com/TomiHiltunen/geohash-golang"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/maartendamen/houseagent-latitude/pkg/geo"
)

type cacheEntry struct {
	label   string
	expires time.Time
}

// CachingGeocoder remembers labels per geohash cell so that an account standing still
// does not hit the geocoding endpoint on every poll. Failures are never cached.
type CachingGeocoder struct {
	next      Geocoder
	precision int
	ttl       time.Duration
	entries   cmap.ConcurrentMap[string, cacheEntry]
	now       func() time.Time
}

// NewCachingGeocoder wraps next. precision is the geohash length (7 is roughly 150m).
func NewCachingGeocoder(next Geocoder, precision int, ttl time.Duration) *CachingGeocoder {
	return &CachingGeocoder{
		next:      next,
		precision: precision,
		ttl:       ttl,
		entries:   cmap.New[cacheEntry](),
		now:       time.Now,
	}
}

// Name implements Geocoder.
func (c *CachingGeocoder) Name() string {
	return "cached-" + c.next.Name()
}

// ReverseGeocode implements Geocoder.
func (c *CachingGeocoder) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	key := geohash.EncodeWithPrecision(point.Latitude, point.Longitude, c.precision)

	if entry, ok := c.entries.Get(key); ok {
		if c.now().Before(entry.expires) {
			return entry.label, nil
		}
		c.entries.Remove(key)
	}

	label, err := c.next.ReverseGeocode(ctx, point)
	if err != nil {
		return "", err
	}

	c.entries.Set(key, cacheEntry{label: label, expires: c.now().Add(c.ttl)})
	return label, nil
}

// Len returns the number of cached cells.
func (c *CachingGeocoder) Len() int {
	return c.entries.Count()
}
