package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Evaluations.Inc()
	m.Recommendations.WithLabelValues("Bakery").Inc()
	m.Recommendations.WithLabelValues("Bakery").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Recommendations.WithLabelValues("Bakery")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["shopsense_evaluations_total"])
	assert.True(t, names["shopsense_recommendations_total"])
}

func TestDiscardDoesNotRegister(t *testing.T) {
	// Two unregistered sets must not collide.
	a := Discard()
	b := Discard()
	a.GatedSamples.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GatedSamples))
}
