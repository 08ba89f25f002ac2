package geofence

import (
	"context"
	"sync"

	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
)

// DefaultHysteresis is the margin around the home radius a position must
// clear before a crossing is reported.
const DefaultHysteresis = 25.0

// Monitor is a software geofence over a location stream. It reports an EXIT
// for the first sample found outside the region, then only changes.
type Monitor struct {
	hysteresis float64
	metrics    *metrics.Metrics

	mu     sync.Mutex
	home   *model.HomeLocation
	inside *bool
}

func NewMonitor(hysteresis float64, m *metrics.Metrics) *Monitor {
	if hysteresis < 0 {
		hysteresis = 0
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Monitor{hysteresis: hysteresis, metrics: m}
}

// SetHome replaces the region and forgets which side of it we were on. A
// nil home disables the monitor.
func (m *Monitor) SetHome(h *model.HomeLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h != nil {
		cp := *h
		h = &cp
	}
	m.home = h
	m.inside = nil
}

// Observe feeds one sample and returns the transition it causes, if any.
func (m *Monitor) Observe(s model.LocationSample) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.home == nil {
		return Transition{}, false
	}

	d := geomath.Distance(
		geomath.Point{Lat: m.home.Lat, Lng: m.home.Lng},
		geomath.Point{Lat: s.Lat, Lng: s.Lng},
	)
	r := m.home.RadiusMeters

	var inside bool
	switch {
	case m.inside == nil:
		inside = d <= r
	case *m.inside:
		inside = d <= r+m.hysteresis
	default:
		inside = d < max(r-m.hysteresis, 0)
	}

	first := m.inside == nil
	changed := first || *m.inside != inside
	m.inside = &inside
	if !changed || (first && inside) {
		return Transition{}, false
	}

	t := Transition{Kind: Exit, Sample: s}
	if inside {
		t.Kind = Enter
	}
	m.metrics.GeofenceEvents.WithLabelValues(t.Kind.String()).Inc()
	log.Info("home transition", "kind", t.Kind, "distance", int(d))
	return t, true
}

// Run observes samples until ctx is done or the stream closes, handing
// every transition to emit.
func (m *Monitor) Run(ctx context.Context, samples <-chan model.LocationSample, emit func(context.Context, Transition)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			if t, ok := m.Observe(s); ok {
				emit(ctx, t)
			}
		}
	}
}
