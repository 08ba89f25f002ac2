// Package places defines the nearby place search contract and decorators
// shared by the concrete providers.
package places

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
)

// DefaultTimeout bounds a single search call.
const DefaultTimeout = 8 * time.Second

// ErrNoProvider is returned by Disabled.
var ErrNoProvider = errors.New("no place search provider configured")

// Searcher finds places of the given types around a centre point.
// Implementations must honour ctx cancellation.
type Searcher interface {
	SearchNearby(ctx context.Context, center geomath.Point, radiusMeters float64, types []string) ([]model.NearbyPlace, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, center geomath.Point, radiusMeters float64, types []string) ([]model.NearbyPlace, error)

func (f SearcherFunc) SearchNearby(ctx context.Context, center geomath.Point, radiusMeters float64, types []string) ([]model.NearbyPlace, error) {
	return f(ctx, center, radiusMeters, types)
}

// Disabled is used when no provider is configured; every search fails.
var Disabled Searcher = SearcherFunc(func(context.Context, geomath.Point, float64, []string) ([]model.NearbyPlace, error) {
	return nil, ErrNoProvider
})

// WithTimeout bounds every call of s by d.
func WithTimeout(s Searcher, d time.Duration) Searcher {
	if d <= 0 {
		d = DefaultTimeout
	}
	return SearcherFunc(func(ctx context.Context, center geomath.Point, radius float64, types []string) ([]model.NearbyPlace, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		res, err := s.SearchNearby(ctx, center, radius, types)
		if err != nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("search timed out after %s: %w", d, err)
		}
		return res, err
	})
}

// Instrumented records call counts, failures and latency for provider.
func Instrumented(s Searcher, provider string, m *metrics.Metrics) Searcher {
	return SearcherFunc(func(ctx context.Context, center geomath.Point, radius float64, types []string) ([]model.NearbyPlace, error) {
		start := time.Now()
		res, err := s.SearchNearby(ctx, center, radius, types)
		m.SearchDuration.Observe(time.Since(start).Seconds())
		m.Searches.WithLabelValues(provider).Inc()
		if err != nil {
			m.SearchErrors.WithLabelValues(provider).Inc()
		}
		return res, err
	})
}

// WithinRadius keeps the places no farther than radius from center.
func WithinRadius(in []model.NearbyPlace, center geomath.Point, radius float64) []model.NearbyPlace {
	out := in[:0:0]
	for _, p := range in {
		if geomath.Distance(center, geomath.Point{Lat: p.Lat, Lng: p.Lng}) <= radius {
			out = append(out, p)
		}
	}
	return out
}
