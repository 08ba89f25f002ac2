package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
)

func TestRunNeverOverlapsEvaluations(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	s := &countingSearcher{fn: func(_ context.Context, c geomath.Point, _ float64, _ []string) ([]model.NearbyPlace, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}}
	m := metrics.Discard()
	e := New(&fakeItems{items: bread()}, s, &recordingNotifier{}, WithMetrics(m))

	samples := make(chan model.LocationSample)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background(), samples) }()

	const n = 10
	for i := range n {
		samples <- sampleAt(geomath.Offset(origin, 90, float64(i)*200), 0)
	}
	close(samples)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}

	assert.EqualValues(t, 1, maxInFlight.Load())
	evaluated := s.calls.Load()
	assert.Less(t, evaluated, int32(n))
	// Every sample is either evaluated or evicted from the mailbox.
	assert.Equal(t, float64(n-evaluated), testutil.ToFloat64(m.DroppedSamples))
}

func TestRunCancelStopsInFlightSearch(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	s := &countingSearcher{fn: func(ctx context.Context, _ geomath.Point, _ float64, _ []string) ([]model.NearbyPlace, error) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return nil, ctx.Err()
	}}
	e := New(&fakeItems{items: bread()}, s, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	samples := make(chan model.LocationSample, 1)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx, samples) }()

	samples <- sampleAt(origin, 0)
	<-started
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, sawCancel.Load())
	_, ok := e.Last()
	assert.False(t, ok, "cancelled evaluation is not recorded")
}
