package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	points := []Point{
		{0, 0},
		{52.0, 4.0},
		{-33.8688, 151.2093},
		{89.9, -179.9},
	}

	for _, p := range points {
		assert.Equal(t, 0.0, DistanceKm(p, p), "distance of %v to itself", p)
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a := Point{52.3676, 4.9041}
	b := Point{48.8566, 2.3522}

	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
}

func TestDistanceKm_OneDegreeOfLongitudeAtEquator(t *testing.T) {
	d := DistanceKm(Point{0, 0}, Point{0, 1})

	assert.InDelta(t, 111.19, d, 0.5)
}

func TestDistanceKm_KnownCities(t *testing.T) {
	amsterdam := Point{52.3676, 4.9041}
	paris := Point{48.8566, 2.3522}

	// roughly 430 km as the crow flies
	assert.InDelta(t, 430, DistanceKm(amsterdam, paris), 5)
}

func TestDistanceKm_NaNPropagates(t *testing.T) {
	d := DistanceKm(Point{math.NaN(), 0}, Point{0, 0})

	assert.True(t, math.IsNaN(d))
}

func TestPoint_Valid(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"origin", Point{0, 0}, true},
		{"near the pole", Point{89.5, 0}, true},
		{"near the date line", Point{10, -179.5}, true},
		{"latitude too large", Point{90.5, 0}, false},
		{"longitude too large", Point{0, 181}, false},
		{"nan", Point{math.NaN(), 1}, false},
		{"inf", Point{1, math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.point.Valid())
		})
	}
}
