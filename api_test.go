package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/shopsense/pkg/alarm"
	"github.com/rubiojr/shopsense/pkg/engine"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/notify"
	"github.com/rubiojr/shopsense/pkg/places"
	"github.com/rubiojr/shopsense/pkg/shopping"
	"github.com/rubiojr/shopsense/pkg/store"
)

type fakeLocation struct {
	mu   sync.Mutex
	err  error
	last *model.LocationSample
}

func (f *fakeLocation) Subscribe(ctx context.Context, _ time.Duration, _ float64) (<-chan model.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return make(chan model.LocationSample), nil
}

func (f *fakeLocation) LastKnown() (model.LocationSample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return model.LocationSample{}, false
	}
	return *f.last, true
}

type fixture struct {
	handler http.Handler
	store   *store.Store
	loc     *fakeLocation
	homes   []*model.HomeLocation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	loc := &fakeLocation{}
	eng := engine.New(st, places.Disabled, notify.Log{}, engine.WithMetrics(m))
	alarms := alarm.New(st, nil)
	t.Cleanup(alarms.Close)
	ctrl := shopping.New(st, loc, eng, notify.Log{}, alarms, shopping.WithMetrics(m))
	t.Cleanup(ctrl.Shutdown)

	f := &fixture{store: st, loc: loc}
	a := &api{
		store:          st,
		ctrl:           ctrl,
		location:       loc,
		gatherer:       reg,
		lastEvaluation: eng.Last,
		homeChanged:    func(h *model.HomeLocation) { f.homes = append(f.homes, h) },
	}
	f.handler = a.routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type modeBody struct {
	Mode struct {
		State   string `json:"state"`
		Manual  bool   `json:"manual"`
		Message string `json:"message"`
	} `json:"mode"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decodeBody[map[string]string](t, rec)["error"]
}

func TestShoppingModeToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/shopping-mode", map[string]bool{"on": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[modeBody](t, rec)
	assert.Equal(t, "active", body.Mode.State)
	assert.True(t, body.Mode.Manual)

	st, err := f.store.ModeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ModeState{On: true, Manual: true}, st)

	rec = f.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, "active", decodeBody[modeBody](t, rec).Mode.State)

	rec = f.do(t, http.MethodPost, "/api/shopping-mode", map[string]bool{"on": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "off", decodeBody[modeBody](t, rec).Mode.State)

	rec = f.do(t, http.MethodPost, "/api/shopping-mode", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/shopping-mode", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShoppingModeWithoutLocation(t *testing.T) {
	f := newFixture(t)
	f.loc.err = errors.New("AccessDenied")

	rec := f.do(t, http.MethodPost, "/api/shopping-mode", map[string]bool{"on": true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "location unavailable")

	body := decodeBody[modeBody](t, f.do(t, http.MethodGet, "/api/state", nil))
	assert.Equal(t, "off", body.Mode.State)
	assert.Equal(t, "Location unavailable, shopping mode turned off", body.Mode.Message)
}

func TestSnoozeAndActions(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/actions/yes", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/snooze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "snoozed", decodeBody[modeBody](t, rec).Mode.State)
	_, err := f.store.Alarm(context.Background(), shopping.SnoozeToken)
	assert.NoError(t, err, "the resume alarm is persisted")

	rec = f.do(t, http.MethodPost, "/api/actions/off", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "off", decodeBody[modeBody](t, rec).Mode.State)
	_, err = f.store.Alarm(context.Background(), shopping.SnoozeToken)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec = f.do(t, http.MethodPost, "/api/actions/dance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItems(t *testing.T) {
	f := newFixture(t)

	cats := decodeBody[[]model.Category](t, f.do(t, http.MethodGet, "/api/categories", nil))
	var bakery int64
	for _, c := range cats {
		if c.Name == "Bakery" {
			bakery = c.ID
		}
	}
	require.NotZero(t, bakery)

	rec := f.do(t, http.MethodPost, "/api/items", model.ToBuyItem{Name: "bread", CategoryID: bakery})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decodeBody[model.ToBuyItem](t, rec)
	assert.Equal(t, 1, item.Quantity)

	items := decodeBody[[]model.ToBuyItem](t, f.do(t, http.MethodGet, "/api/items", nil))
	require.Len(t, items, 1)
	assert.Equal(t, "bread", items[0].Name)

	path := "/api/items/" + strconv.FormatInt(item.ID, 10)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, path, map[string]bool{"checked": true}).Code)
	unchecked, err := f.store.ListUncheckedItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unchecked)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, path, map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/api/items/999", map[string]bool{"checked": true}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/api/items/abc", map[string]bool{"checked": true}).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, nil).Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/items", model.ToBuyItem{Name: " "}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/items", model.ToBuyItem{Name: "x", CategoryID: 999}).Code)

	rec = f.do(t, http.MethodGet, "/api/items", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/categories", map[string]string{"name": "Garden"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Garden", decodeBody[model.Category](t, rec).Name)

	rec = f.do(t, http.MethodPost, "/api/categories", map[string]string{"name": "Garden"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, errorMessage(t, rec))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/categories", map[string]string{}).Code)
}

func TestHome(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/home", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodGet, "/api/location", nil).Code)

	rec := f.do(t, http.MethodPut, "/api/home", map[string]bool{"use_current": true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.loc.last = &model.LocationSample{Lat: 48.85, Lng: 2.35, Time: time.Now()}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/location", nil).Code)

	rec = f.do(t, http.MethodPut, "/api/home", map[string]bool{"use_current": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := model.HomeLocation{Lat: 48.85, Lng: 2.35, RadiusMeters: defaultHomeRadius}
	assert.Equal(t, want, decodeBody[model.HomeLocation](t, rec))
	require.Len(t, f.homes, 1)
	assert.Equal(t, want, *f.homes[0])

	assert.Equal(t, want, decodeBody[model.HomeLocation](t, f.do(t, http.MethodGet, "/api/home", nil)))

	rec = f.do(t, http.MethodPut, "/api/home", model.HomeLocation{Lat: 123, Lng: 0, RadiusMeters: 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/home", model.HomeLocation{Lat: 1, Lng: 1, RadiusMeters: -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/home", nil).Code)
	require.Len(t, f.homes, 2)
	assert.Nil(t, f.homes[1])
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/home", nil).Code)
}

func TestMetricsAndVersion(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/shopping-mode", map[string]bool{"on": true})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shopsense_mode_transitions_total{to="active"} 1`)

	rec = f.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[map[string]any](t, rec)["go_version"])
}
