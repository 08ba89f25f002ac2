// Package model holds the data shared by the engine, the controller and the
// persistence layer.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvariant marks a mode state that no transition can produce.
var ErrInvariant = errors.New("mode state invariant violated")

// OtherCategory is the catch-all category that is never searched for.
const OtherCategory = "Other"

// ToBuyItem is an entry of the shopping list.
type ToBuyItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
	Quantity   int    `json:"quantity"`
	Checked    bool   `json:"checked"`
}

// Category groups items; its name is the lookup key for place types.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// HomeLocation is the circular exclusion zone around the user's home.
type HomeLocation struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_m"`
}

// LocationSample is a single fix delivered by a location provider.
// Speed is in m/s and is unreliable near zero; NaN means unknown.
type LocationSample struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Speed    float64   `json:"speed"`
	Accuracy float64   `json:"accuracy_m,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// ModeState is the durable shopping mode flag set.
type ModeState struct {
	On           bool       `json:"on"`
	Manual       bool       `json:"manual"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
}

// Validate reports states that indicate a programming defect.
func (s ModeState) Validate() error {
	if s.Manual && !s.On {
		return ErrInvariant
	}
	return nil
}

// Snoozed reports whether a resume deadline is set.
func (s ModeState) Snoozed() bool {
	return s.SnoozedUntil != nil
}

// NearbyPlace is a raw search hit.
type NearbyPlace struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Candidate is a search hit with its distance from the sample point.
type Candidate struct {
	NearbyPlace
	DistanceMeters float64 `json:"distance_m"`
}

// Validate rejects coordinates outside WGS84 ranges and non-positive radii.
func (h HomeLocation) Validate() error {
	if h.Lat < -90 || h.Lat > 90 || h.Lng < -180 || h.Lng > 180 {
		return fmt.Errorf("home coordinates out of range: %f,%f", h.Lat, h.Lng)
	}
	if !(h.RadiusMeters > 0) {
		return fmt.Errorf("home radius must be positive, got %f", h.RadiusMeters)
	}
	return nil
}
