// Package geoclue provides location samples from GeoClue2 on the system bus.
//
// GeoClue requires a DesktopId matching a .desktop file in the XDG data
// dirs that carries X-Geoclue-2-Client=true; without it clients usually get
// org.freedesktop.DBus.Error.AccessDenied or never receive a fix.
// EnsureDesktopFile writes a minimal one.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
)

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"
)

// GeoClue accuracy levels.
const (
	AccuracyCity   = uint32(4)
	AccuracyStreet = uint32(6)
	AccuracyExact  = uint32(8)
)

const (
	maxInitialRetries = 5
	retryBaseDelay    = 2 * time.Second
	retryMaxDelay     = 30 * time.Second
)

// ErrUnavailable wraps failures to obtain location updates at all.
var ErrUnavailable = errors.New("location unavailable")

var log = logger.With("geoclue")

// Provider hands out location subscriptions. Each subscription owns a
// private GeoClue client so thresholds do not interfere.
type Provider struct {
	desktopID string
	accuracy  uint32

	mu      sync.RWMutex
	last    model.LocationSample
	hasLast bool
}

func New(desktopID string, accuracy uint32) *Provider {
	if accuracy == 0 {
		accuracy = AccuracyExact
	}
	return &Provider{desktopID: desktopID, accuracy: accuracy}
}

// Subscribe starts a GeoClue client asking for updates at most every
// interval or minDistance metres. Failure to create the first client is
// returned synchronously; later bus errors are retried with backoff. The
// channel is closed once ctx is cancelled.
func (p *Provider) Subscribe(ctx context.Context, interval time.Duration, minDistance float64) (<-chan model.LocationSample, error) {
	secs := uint32(math.Max(0, math.Round(interval.Seconds())))
	dist := uint32(math.Max(0, math.Round(minDistance)))

	cl, err := newClient(p.desktopID, p.accuracy, dist, secs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := cl.start(); err != nil {
		cl.close()
		return nil, fmt.Errorf("%w: start: %v", ErrUnavailable, err)
	}

	out := make(chan model.LocationSample, 1)
	go p.run(ctx, cl, out, dist, secs)
	return out, nil
}

// LastKnown returns the most recent fix seen by any subscription.
func (p *Provider) LastKnown() (model.LocationSample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.hasLast
}

func (p *Provider) remember(s model.LocationSample) {
	p.mu.Lock()
	p.last, p.hasLast = s, true
	p.mu.Unlock()
}

// run keeps the subscription alive until ctx is cancelled.
func (p *Provider) run(ctx context.Context, cl *client, out chan<- model.LocationSample, dist, secs uint32) {
	defer close(out)

	emit := func(s model.LocationSample) bool {
		p.remember(s)
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var attempt int
	for {
		if cl == nil {
			var err error
			cl, err = newClient(p.desktopID, p.accuracy, dist, secs)
			if err == nil {
				if err = cl.start(); err != nil {
					cl.close()
					cl = nil
				}
			}
			if err != nil {
				attempt++
				delay := backoff(attempt)
				log.Warn("retrying after error", "err", err, "attempt", attempt, "delay", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}
		}

		if s, ok := cl.initialSample(); ok && !emit(s) {
			cl.close()
			return
		}
		err := cl.runSignalLoop(ctx, emit)
		cl.close()
		cl = nil
		if err == nil || ctx.Err() != nil {
			return
		}
		attempt++
		delay := backoff(attempt)
		log.Warn("signal loop ended", "err", err, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// backoff grows linearly for the first retries, then stays at the maximum.
func backoff(attempt int) time.Duration {
	if attempt <= maxInitialRetries {
		return retryBaseDelay * time.Duration(attempt)
	}
	return retryMaxDelay
}

type client struct {
	path dbus.ObjectPath
	bus  *dbus.Conn
}

func newClient(desktopID string, acc, dist, sec uint32) (*client, error) {
	// A private connection per client; closing it must not affect other
	// subscriptions.
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	manager := bus.Object(geoService, managerPath)

	var clientPath dbus.ObjectPath
	if call := manager.Call(managerIface+".CreateClient", 0); call.Err != nil {
		bus.Close()
		return nil, call.Err
	} else if err := call.Store(&clientPath); err != nil {
		bus.Close()
		return nil, err
	}
	clientObj := bus.Object(geoService, clientPath)

	setProp := func(name string, val interface{}) error {
		return clientObj.Call(propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := setProp("DesktopId", desktopID); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set DesktopId: %w", err)
	}
	if err := setProp("RequestedAccuracyLevel", acc); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set accuracy: %w", err)
	}
	_ = setProp("DistanceThreshold", dist)
	_ = setProp("TimeThreshold", sec)

	return &client{path: clientPath, bus: bus}, nil
}

func (c *client) start() error {
	return c.bus.Object(geoService, c.path).Call(clientIface+".Start", 0).Err
}

func (c *client) close() {
	_ = c.bus.Object(geoService, c.path).Call(clientIface+".Stop", 0)
	c.bus.Close()
}

func (c *client) initialSample() (model.LocationSample, bool) {
	var variant dbus.Variant
	call := c.bus.Object(geoService, c.path).Call(propsIface+".Get", 0, clientIface, "Location")
	if call.Err != nil || call.Store(&variant) != nil {
		return model.LocationSample{}, false
	}
	locPath, _ := variant.Value().(dbus.ObjectPath)
	if locPath == "" || locPath == "/" {
		return model.LocationSample{}, false
	}
	return c.readLocation(locPath)
}

func (c *client) runSignalLoop(ctx context.Context, emit func(model.LocationSample) bool) error {
	if err := c.bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchObjectPath(c.path),
	); err != nil {
		return err
	}
	sigCh := make(chan *dbus.Signal, 10)
	c.bus.Signal(sigCh)
	defer c.bus.RemoveSignal(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig == nil {
				return errors.New("dbus signal channel closed")
			}
			lp, ok := changedLocation(sig, c.path)
			if !ok {
				continue
			}
			if s, ok := c.readLocation(lp); ok && !emit(s) {
				return nil
			}
		}
	}
}

// changedLocation extracts the new Location object path from a
// PropertiesChanged signal of the client.
func changedLocation(sig *dbus.Signal, path dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != path || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	lp, ok := v.Value().(dbus.ObjectPath)
	return lp, ok && lp != "" && lp != "/"
}

func (c *client) readLocation(locPath dbus.ObjectPath) (model.LocationSample, bool) {
	var props map[string]dbus.Variant
	call := c.bus.Object(geoService, locPath).Call(propsIface+".GetAll", 0, locationIface)
	if call.Err != nil || call.Store(&props) != nil {
		return model.LocationSample{}, false
	}
	return sampleFromProps(props, time.Now())
}

// sampleFromProps converts the Location interface properties. GeoClue
// reports an unknown speed as -1, which becomes NaN.
func sampleFromProps(props map[string]dbus.Variant, now time.Time) (model.LocationSample, bool) {
	getF64 := func(key string) (float64, bool) {
		if v, ok := props[key]; ok {
			if f, ok := v.Value().(float64); ok {
				return f, true
			}
		}
		return 0, false
	}

	lat, okLat := getF64("Latitude")
	lng, okLng := getF64("Longitude")
	if !okLat || !okLng || (lat == 0 && lng == 0) {
		return model.LocationSample{}, false
	}
	speed, ok := getF64("Speed")
	if !ok || speed < 0 {
		speed = math.NaN()
	}
	acc, _ := getF64("Accuracy")

	ts := now.UTC()
	if v, ok := props["Timestamp"]; ok {
		var pair struct {
			Seconds      uint64
			Microseconds uint64
		}
		if err := dbus.Store([]interface{}{v.Value()}, &pair); err == nil && pair.Seconds > 0 {
			ts = time.Unix(int64(pair.Seconds), int64(pair.Microseconds)*1000).UTC()
		}
	}

	return model.LocationSample{Lat: lat, Lng: lng, Speed: speed, Accuracy: acc, Time: ts}, true
}

// EnsureDesktopFile writes a minimal desktop file for desktopID into
// ~/.local/share/applications unless one already exists.
func EnsureDesktopFile(desktopID, execName string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	appsDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		// Do not overwrite user customisations.
		return nil
	}
	content := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=ShopSense
Comment=Location-triggered shopping reminders
Exec=%s
Terminal=false
NoDisplay=true
Categories=Utility;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`, execName)
	return os.WriteFile(dest, []byte(content), 0o644)
}
