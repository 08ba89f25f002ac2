package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubiojr/shopsense/pkg/engine"
	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/shopping"
	"github.com/rubiojr/shopsense/pkg/store"
)

// defaultHomeRadius is used when a home is set without a radius.
const defaultHomeRadius = 150.0

var apiLog = logger.With("api")

type locator interface {
	LastKnown() (model.LocationSample, bool)
}

// api serves the loopback control surface that stands in for the UI.
type api struct {
	store    *store.Store
	ctrl     *shopping.Controller
	location locator
	gatherer prometheus.Gatherer
	// lastEvaluation reports the engine's latest result, if any.
	lastEvaluation func() (engine.Result, bool)
	// homeChanged is told about every home update; nil means cleared.
	homeChanged func(*model.HomeLocation)
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", handleGetVersion)

		r.Get("/state", a.handleGetState)
		r.Post("/shopping-mode", a.handlePostShoppingMode)
		r.Post("/snooze", a.handlePostSnooze)
		r.Post("/actions/{key}", a.handlePostAction)

		r.Get("/location", a.handleGetLocation)
		r.Get("/home", a.handleGetHome)
		r.Put("/home", a.handlePutHome)
		r.Delete("/home", a.handleDeleteHome)

		r.Get("/items", a.handleGetItems)
		r.Post("/items", a.handlePostItem)
		r.Patch("/items/{id}", a.handlePatchItem)
		r.Delete("/items/{id}", a.handleDeleteItem)

		r.Get("/categories", a.handleGetCategories)
		r.Post("/categories", a.handlePostCategory)
	})
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		apiLog.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		apiLog.Error("encode response", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, shopping.ErrUnknownAction):
		status = http.StatusBadRequest
	case errors.Is(err, shopping.ErrLocationUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		apiLog.Error("request failed", "err", err)
	}
	writeJSONError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// --------------- Shopping mode ---------------

type stateResponse struct {
	Mode           shopping.Snapshot `json:"mode"`
	LastEvaluation *engine.Result    `json:"last_evaluation,omitempty"`
}

func (a *api) state() stateResponse {
	resp := stateResponse{Mode: a.ctrl.State()}
	if a.lastEvaluation != nil {
		if res, ok := a.lastEvaluation(); ok {
			resp.LastEvaluation = &res
		}
	}
	return resp
}

func (a *api) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.state())
}

func (a *api) handlePostShoppingMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On *bool `json:"on"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.On == nil {
		writeJSONError(w, http.StatusBadRequest, "on required")
		return
	}
	ev := shopping.ToggleOff
	if *req.On {
		ev = shopping.ToggleOn
	}
	a.handleEvent(w, r, ev)
}

func (a *api) handlePostSnooze(w http.ResponseWriter, r *http.Request) {
	a.handleEvent(w, r, shopping.Snooze)
}

func (a *api) handleEvent(w http.ResponseWriter, r *http.Request, ev shopping.Event) {
	if err := a.ctrl.Handle(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.state())
}

func (a *api) handlePostAction(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.HandleAction(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.state())
}

// --------------- Location & home ---------------

func (a *api) handleGetLocation(w http.ResponseWriter, _ *http.Request) {
	s, ok := a.location.LastKnown()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) handleGetHome(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.Home(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handlePutHome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		model.HomeLocation
		UseCurrent bool `json:"use_current"`
	}
	if !decode(w, r, &req) {
		return
	}
	h := req.HomeLocation
	if req.UseCurrent {
		s, ok := a.location.LastKnown()
		if !ok {
			writeJSONError(w, http.StatusServiceUnavailable, "no location fix yet")
			return
		}
		h.Lat, h.Lng = s.Lat, s.Lng
	}
	if h.RadiusMeters == 0 {
		h.RadiusMeters = defaultHomeRadius
	}
	if err := h.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.SetHome(r.Context(), h); err != nil {
		writeError(w, err)
		return
	}
	if a.homeChanged != nil {
		a.homeChanged(&h)
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handleDeleteHome(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ClearHome(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if a.homeChanged != nil {
		a.homeChanged(nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --------------- Items & categories ---------------

func (a *api) handleGetItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.ToBuyItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *api) handlePostItem(w http.ResponseWriter, r *http.Request) {
	var it model.ToBuyItem
	if !decode(w, r, &it) {
		return
	}
	if strings.TrimSpace(it.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	saved, err := a.store.AddItem(r.Context(), it)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *api) handlePatchItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Checked *bool `json:"checked"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Checked == nil {
		writeJSONError(w, http.StatusBadRequest, "checked required")
		return
	}
	if err := a.store.SetItemChecked(r.Context(), id, *req.Checked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "checked": *req.Checked})
}

func (a *api) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.store.DeleteItem(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.store.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (a *api) handlePostCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	c, err := a.store.AddCategory(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// --------------- Version ---------------

// handleGetVersion returns runtime version information
func handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	versionInfo := map[string]any{
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		versionInfo["go_module"] = buildInfo.Path
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			versionInfo["app_version"] = buildInfo.Main.Version
		}

		settings := make(map[string]string)
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				settings["commit"] = setting.Value
				if len(setting.Value) > 7 {
					settings["commit_short"] = setting.Value[:7]
				}
			case "vcs.time":
				settings["build_time"] = setting.Value
			case "vcs.modified":
				settings["dirty"] = setting.Value
			}
		}
		if len(settings) > 0 {
			versionInfo["build_info"] = settings
		}
	}

	writeJSON(w, http.StatusOK, versionInfo)
}
