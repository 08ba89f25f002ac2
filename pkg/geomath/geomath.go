// Package geomath has the distance, bearing and angle helpers used to gate
// and rank nearby places.
package geomath

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Search radius bands, in metres.
const (
	RadiusSlow   = 150.0
	RadiusMedium = 300.0
	RadiusFast   = 500.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	return geo.DistanceHaversine(a.orb(), b.orb())
}

// Bearing returns the initial bearing from one point to another in degrees,
// normalised into [0, 360).
func Bearing(from, to Point) float64 {
	return normalize360(geo.Bearing(from.orb(), to.orb()))
}

// AngleDiff returns the absolute smallest difference between two headings,
// always in [0, 180].
func AngleDiff(a, b float64) float64 {
	diff := math.Mod(a-b, 360)
	if diff < -180 {
		diff += 360
	}
	if diff > 180 {
		diff -= 360
	}
	return math.Abs(diff)
}

// SearchRadius maps a speed in m/s to a search radius. Unknown or negative
// speed counts as standing still.
func SearchRadius(speed float64) float64 {
	s := speed
	if math.IsNaN(s) || s < 0 {
		s = 0
	}
	switch {
	case s < 1:
		return RadiusSlow
	case s < 3:
		return RadiusMedium
	default:
		return RadiusFast
	}
}

// Offset returns the point reached by travelling metres along bearing.
func Offset(p Point, bearing, metres float64) Point {
	o := geo.PointAtBearingAndDistance(p.orb(), bearing, metres)
	return Point{Lat: o.Lat(), Lng: o.Lon()}
}

func normalize360(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}
