package geomath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	a := Point{Lat: 52.5200, Lng: 13.4050}
	assert.InDelta(t, 0, Distance(a, a), 1e-9)

	// One degree of latitude is roughly 111.2 km.
	b := Point{Lat: 53.5200, Lng: 13.4050}
	assert.InDelta(t, 111195, Distance(a, b), 200)
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-6)
}

func TestBearing(t *testing.T) {
	origin := Point{Lat: 40.0, Lng: -3.0}

	assert.InDelta(t, 0, Bearing(origin, Point{Lat: 40.01, Lng: -3.0}), 0.01)
	assert.InDelta(t, 90, Bearing(origin, Point{Lat: 40.0, Lng: -2.99}), 0.1)
	assert.InDelta(t, 180, Bearing(origin, Point{Lat: 39.99, Lng: -3.0}), 0.01)
	assert.InDelta(t, 270, Bearing(origin, Point{Lat: 40.0, Lng: -3.01}), 0.1)

	for _, p := range []Point{{41, -4}, {39, 2}, {-10, 170}} {
		b := Bearing(origin, p)
		assert.GreaterOrEqual(t, b, 0.0)
		assert.Less(t, b, 360.0)
	}
}

func TestAngleDiff(t *testing.T) {
	cases := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 350, 20},
		{350, 10, 20},
		{90, 270, 180},
		{0, 180, 180},
		{45, 100, 55},
		{-170, 170, 20},
		{720, 30, 30},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, AngleDiff(c.a, c.b), 1e-9, "AngleDiff(%v, %v)", c.a, c.b)
	}
}

func TestAngleDiffSymmetricAndBounded(t *testing.T) {
	for a := -720.0; a <= 720; a += 37.5 {
		for b := -720.0; b <= 720; b += 41.25 {
			d := AngleDiff(a, b)
			require.InDelta(t, d, AngleDiff(b, a), 1e-9)
			require.GreaterOrEqual(t, d, 0.0)
			require.LessOrEqual(t, d, 180.0)
		}
	}
}

func TestSearchRadius(t *testing.T) {
	assert.Equal(t, RadiusSlow, SearchRadius(0))
	assert.Equal(t, RadiusSlow, SearchRadius(0.99))
	assert.Equal(t, RadiusMedium, SearchRadius(1))
	assert.Equal(t, RadiusMedium, SearchRadius(2.99))
	assert.Equal(t, RadiusFast, SearchRadius(3))
	assert.Equal(t, RadiusFast, SearchRadius(40))

	assert.Equal(t, SearchRadius(0), SearchRadius(math.NaN()))
	assert.Equal(t, SearchRadius(0), SearchRadius(-5))
	assert.Equal(t, SearchRadius(0), SearchRadius(math.Inf(-1)))
}

func TestSearchRadiusMonotonic(t *testing.T) {
	prev := SearchRadius(0)
	for s := 0.0; s < 20; s += 0.05 {
		r := SearchRadius(s)
		require.GreaterOrEqual(t, r, prev, "speed %v", s)
		prev = r
	}
}

func TestOffset(t *testing.T) {
	origin := Point{Lat: 48.8566, Lng: 2.3522}
	for _, bearing := range []float64{0, 45, 90, 200, 315} {
		p := Offset(origin, bearing, 250)
		assert.InDelta(t, 250, Distance(origin, p), 1)
		assert.InDelta(t, 0, AngleDiff(bearing, Bearing(origin, p)), 0.5)
	}
}
