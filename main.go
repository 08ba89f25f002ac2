package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rubiojr/shopsense/pkg/alarm"
	"github.com/rubiojr/shopsense/pkg/category"
	"github.com/rubiojr/shopsense/pkg/config"
	"github.com/rubiojr/shopsense/pkg/engine"
	"github.com/rubiojr/shopsense/pkg/geoclue"
	"github.com/rubiojr/shopsense/pkg/geofence"
	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/notify"
	"github.com/rubiojr/shopsense/pkg/places"
	"github.com/rubiojr/shopsense/pkg/places/google"
	"github.com/rubiojr/shopsense/pkg/places/nominatim"
	"github.com/rubiojr/shopsense/pkg/shopping"
	"github.com/rubiojr/shopsense/pkg/store"
	"github.com/rubiojr/shopsense/pkg/throttle"
)

// appID doubles as the GeoClue desktop id and the notification app name.
const appID = "io.github.rubiojr.shopsense"

// Global application directories (resolved at startup).
// Set once in main() via command-line flags or XDG rules.
var dataDir string
var configDir string

func main() {
	// Command-line flags
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	addrFlag := flag.String("addr", "", "control API listen address (overrides SHOPSENSE_API_ADDR)")
	dataDirFlag := flag.String("data-dir", "", "custom data directory (overrides XDG_DATA_HOME)")
	configDirFlag := flag.String("config-dir", "", "custom config directory (overrides XDG_CONFIG_HOME)")
	flag.Parse()

	logger.SetDebug(*debugFlag)

	var err error
	if dataDir, err = appDir(*dataDirFlag, xdgDataDir()); err != nil {
		logger.Fatal("Failed to create data dir %s: %v", dataDir, err)
	}
	if configDir, err = appDir(*configDirFlag, xdgConfigDir()); err != nil {
		logger.Error("Failed to create config dir %s: %v", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, ".env"))
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	if cfg.Debug {
		logger.SetDebug(true)
	}
	if *addrFlag != "" {
		cfg.APIAddr = *addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	st, err := store.Open(filepath.Join(dataDir, store.FileName))
	if err != nil {
		return err
	}
	defer st.Close()
	if n, err := st.PruneSearchCache(ctx, cfg.Search.CacheTTL); err != nil {
		logger.Warn("Search cache prune failed: %v", err)
	} else if n > 0 {
		logger.Debug("Pruned %d cached searches", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := geoclue.EnsureDesktopFile(appID+".desktop", "shopsense"); err != nil {
		logger.Warn("Could not write desktop file for GeoClue: %v", err)
	}
	sampler := geoclue.New(appID, geoclue.AccuracyExact)
	coarse := geoclue.New(appID, geoclue.AccuracyStreet)

	sinks := notify.Multi{notify.Log{}}
	desktop, err := notify.NewDBus("ShopSense", nil)
	if err != nil {
		logger.Warn("Desktop notifications disabled: %v", err)
	} else {
		defer desktop.Close()
		sinks = append(sinks, desktop)
	}
	if cfg.NATS.URL != "" {
		nc, err := notify.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Warn("NATS mirror disabled: %v", err)
		} else {
			defer nc.Close()
			sinks = append(sinks, notify.NewNATS(nc, cfg.NATS.Subject))
		}
	}

	eng := engine.New(st, newSearcher(cfg, st, m), sinks,
		engine.WithMapper(category.New(cfg.CategoryMap)),
		engine.WithCooldown(throttle.New(cfg.Engine.Cooldown)),
		engine.WithMetrics(m),
		engine.WithConfig(engine.Config{
			MoveThreshold:   cfg.Engine.MoveThreshold,
			HeadingMinSpeed: cfg.Engine.HeadingMinSpeed,
			HeadingCone:     cfg.Engine.HeadingCone,
			SearchTimeout:   cfg.Search.Timeout,
			Concurrency:     cfg.Search.Concurrency,
		}),
	)

	alarms := alarm.New(st, nil)
	defer alarms.Close()

	ctrl := shopping.New(st, sampler, eng, sinks, alarms,
		shopping.WithMetrics(m),
		shopping.WithConfig(shopping.Config{
			Snooze:         cfg.Shopping.Snooze,
			SampleInterval: cfg.Shopping.SampleInterval,
			MinDistance:    cfg.Shopping.MinDistance,
		}),
	)
	defer ctrl.Shutdown()
	ctrl.OnChange(func(ch shopping.Change) {
		if ch.Message != "" {
			logger.Info("%s", ch.Message)
		}
	})

	alarms.SetHandler(func(ctx context.Context, token string) {
		if token != shopping.SnoozeToken {
			logger.Warn("Unknown alarm %q", token)
			return
		}
		if err := ctrl.Handle(ctx, shopping.SnoozeExpired); err != nil {
			logger.Error("Resume after snooze failed: %v", err)
		}
	})
	if desktop != nil {
		desktop.SetHandler(func(id int, a notify.Action) {
			if a.Key == notify.ActionDirections {
				openURL(a.URL)
				return
			}
			if err := ctrl.HandleAction(context.Background(), a.Key); err != nil {
				logger.Error("Notification action %q on %d failed: %v", a.Key, id, err)
			}
		})
		go func() {
			if err := desktop.Listen(ctx); err != nil {
				logger.Error("Notification listener stopped: %v", err)
			}
		}()
	}

	// The controller must see the persisted snooze before the alarm fires.
	if err := ctrl.Restore(ctx); err != nil {
		logger.Warn("Restoring shopping mode: %v", err)
	}
	if n, err := alarms.Restore(ctx); err != nil {
		logger.Warn("Restoring alarms: %v", err)
	} else if n > 0 {
		logger.Debug("Restored %d alarms", n)
	}

	monitor := geofence.NewMonitor(cfg.Geofence.Hysteresis, m)
	if h, err := st.Home(ctx); err == nil {
		monitor.SetHome(&h)
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("Reading home: %v", err)
	}
	go watchHome(ctx, coarse, monitor, geofence.NewBridge(st, ctrl))

	a := &api{
		store:          st,
		ctrl:           ctrl,
		location:       freshest{sampler, coarse},
		gatherer:       reg,
		lastEvaluation: eng.Last,
		homeChanged:    monitor.SetHome,
	}
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Control API listening on http://%s/api/state", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSearcher builds the configured place search provider.
func newSearcher(cfg config.Config, st *store.Store, m *metrics.Metrics) places.Searcher {
	var s places.Searcher
	switch cfg.Search.Provider {
	case config.ProviderGoogle:
		c, err := google.New(cfg.Search.GoogleAPIKey, google.WithRate(cfg.Search.GoogleRate, max(1, int(cfg.Search.GoogleRate))))
		if err != nil {
			logger.Error("Google Places unavailable, recommendations disabled: %v", err)
			return places.Disabled
		}
		s = c
	default:
		s = nominatim.New(cfg.Search.NominatimServer,
			nominatim.WithCache(st, cfg.Search.CacheTTL),
			nominatim.WithRetries(cfg.Search.NominatimRetries),
			nominatim.WithInterval(cfg.Search.NominatimInterval),
		)
	}
	logger.Info("Place search provider: %s", cfg.Search.Provider)
	return places.Instrumented(places.WithTimeout(s, cfg.Search.Timeout), cfg.Search.Provider, m)
}

// watchHome runs the home geofence on a coarse location stream for the
// life of the daemon.
func watchHome(ctx context.Context, loc *geoclue.Provider, monitor *geofence.Monitor, bridge *geofence.Bridge) {
	samples, err := loc.Subscribe(ctx, time.Minute, 50)
	if err != nil {
		logger.Warn("Home geofence disabled: %v", err)
		return
	}
	err = monitor.Run(ctx, samples, func(ctx context.Context, t geofence.Transition) {
		if err := bridge.HandleTransition(ctx, t); err != nil {
			logger.Error("Geofence %s: %v", t.Kind, err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Home geofence stopped: %v", err)
	}
}

// freshest answers with the most recent fix of several locators.
type freshest []locator

func (f freshest) LastKnown() (model.LocationSample, bool) {
	var (
		best  model.LocationSample
		found bool
	)
	for _, l := range f {
		if s, ok := l.LastKnown(); ok && (!found || s.Time.After(best.Time)) {
			best, found = s, true
		}
	}
	return best, found
}

func openURL(u string) {
	if u == "" {
		return
	}
	cmd := exec.Command("xdg-open", u)
	if err := cmd.Start(); err != nil {
		logger.Error("Opening %s: %v", u, err)
		return
	}
	go func() { _ = cmd.Wait() }()
}
