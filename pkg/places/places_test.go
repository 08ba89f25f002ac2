package places

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
)

var center = geomath.Point{Lat: 41.3851, Lng: 2.1734}

func TestWithTimeoutCancelsSlowSearch(t *testing.T) {
	slow := SearcherFunc(func(ctx context.Context, _ geomath.Point, _ float64, _ []string) ([]model.NearbyPlace, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []model.NearbyPlace{{Name: "late"}}, nil
		}
	})

	start := time.Now()
	res, err := WithTimeout(slow, 50*time.Millisecond).SearchNearby(context.Background(), center, 150, []string{"bakery"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithTimeoutPassesResults(t *testing.T) {
	fast := SearcherFunc(func(_ context.Context, _ geomath.Point, radius float64, types []string) ([]model.NearbyPlace, error) {
		assert.Equal(t, 300.0, radius)
		assert.Equal(t, []string{"pharmacy"}, types)
		return []model.NearbyPlace{{Name: "Farmacia"}}, nil
	})
	res, err := WithTimeout(fast, time.Second).SearchNearby(context.Background(), center, 300, []string{"pharmacy"})
	require.NoError(t, err)
	assert.Equal(t, "Farmacia", res[0].Name)
}

func TestInstrumented(t *testing.T) {
	m := metrics.Discard()
	fail := true
	s := Instrumented(SearcherFunc(func(context.Context, geomath.Point, float64, []string) ([]model.NearbyPlace, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return nil, nil
	}), "google", m)

	_, err := s.SearchNearby(context.Background(), center, 150, nil)
	require.Error(t, err)
	fail = false
	_, err = s.SearchNearby(context.Background(), center, 150, nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Searches.WithLabelValues("google")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchErrors.WithLabelValues("google")))
}

func TestDisabled(t *testing.T) {
	_, err := Disabled.SearchNearby(context.Background(), center, 150, []string{"x"})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestWithinRadius(t *testing.T) {
	near := geomath.Offset(center, 90, 100)
	far := geomath.Offset(center, 90, 400)
	in := []model.NearbyPlace{
		{Name: "near", Lat: near.Lat, Lng: near.Lng},
		{Name: "far", Lat: far.Lat, Lng: far.Lng},
	}
	out := WithinRadius(in, center, 150)
	require.Len(t, out, 1)
	assert.Equal(t, "near", out[0].Name)
	assert.Len(t, in, 2)
}
