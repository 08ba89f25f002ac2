// Package shopping owns the shopping mode state machine. Every trigger goes
// through Controller.Handle, which runs one transition at a time.
package shopping

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/notify"
)

var log = logger.With("shopping")

var (
	// ErrLocationUnavailable is returned when sampling cannot start. The
	// mode has been switched off when it is returned.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrPersist is returned when the mode flags cannot be saved. The
	// transition did not happen.
	ErrPersist       = errors.New("persist shopping mode")
	ErrUnknownAction = errors.New("unknown notification action")
)

// SnoozeToken identifies the resume alarm.
const SnoozeToken = "shopping-mode-resume"

const DefaultSnooze = 10 * time.Minute

// ModeStore persists the mode flags. Implemented by *store.Store.
type ModeStore interface {
	ModeState(ctx context.Context) (model.ModeState, error)
	SetModeState(ctx context.Context, st model.ModeState) error
}

// LocationProvider starts a location stream; cancelling ctx ends it.
type LocationProvider interface {
	Subscribe(ctx context.Context, interval time.Duration, minDistance float64) (<-chan model.LocationSample, error)
}

// SessionRunner consumes a sampling session. Implemented by *engine.Engine.
type SessionRunner interface {
	Run(ctx context.Context, samples <-chan model.LocationSample) error
	Reset()
	ClearCooldown()
}

// Alarm schedules the snooze resume. Implemented by *alarm.Scheduler.
type Alarm interface {
	Schedule(ctx context.Context, token string, at time.Time) error
	Cancel(ctx context.Context, token string) error
	Pending(ctx context.Context, token string) (time.Time, bool, error)
}

type Config struct {
	Snooze time.Duration
	// SampleInterval and MinDistance are hints for the location provider.
	SampleInterval time.Duration
	MinDistance    float64
}

func DefaultConfig() Config {
	return Config{
		Snooze:         DefaultSnooze,
		SampleInterval: 10 * time.Second,
		MinDistance:    100,
	}
}

type Option func(*Controller)

func WithConfig(cfg Config) Option { return func(c *Controller) { c.cfg = cfg } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// Controller serialises every transition behind one mutex. At most one
// sampling session and one resume alarm are outstanding at any time.
type Controller struct {
	store    ModeStore
	loc      LocationProvider
	runner   SessionRunner
	notifier notify.Notifier
	alarm    Alarm
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	mu           sync.Mutex
	state        State
	manual       bool
	snoozedUntil *time.Time
	session      *session

	viewMu    sync.RWMutex
	snap      Snapshot
	observers []func(Change)
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(st ModeStore, loc LocationProvider, runner SessionRunner, n notify.Notifier, a Alarm, opts ...Option) *Controller {
	c := &Controller{
		store:    st,
		loc:      loc,
		runner:   runner,
		notifier: n,
		alarm:    a,
		metrics:  metrics.Discard(),
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.cfg.Snooze <= 0 {
		c.cfg.Snooze = DefaultSnooze
	}
	return c
}

// OnChange registers an observer. Observers run synchronously inside the
// transition and must not call Handle.
func (c *Controller) OnChange(fn func(Change)) {
	c.viewMu.Lock()
	c.observers = append(c.observers, fn)
	c.viewMu.Unlock()
}

// State returns the current state and the last status message.
func (c *Controller) State() Snapshot {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.snap
}

var actionEvents = map[string]Event{
	notify.ActionYes:    PromptYes,
	notify.ActionNo:     PromptNo,
	notify.ActionSnooze: Snooze,
	notify.ActionOff:    ToggleOff,
}

// HandleAction feeds a notification action into the state machine.
func (c *Controller) HandleAction(ctx context.Context, key string) error {
	ev, ok := actionEvents[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, key)
	}
	return c.Handle(ctx, ev)
}

// Handle applies ev. Events that do not apply to the current state are
// ignored and return nil.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleLocked(ctx, ev)
}

func (c *Controller) handleLocked(ctx context.Context, ev Event) error {
	log.Debug("event", "event", ev, "state", c.state, "manual", c.manual)

	switch ev {
	case ToggleOn:
		if c.state == Active {
			return nil
		}
		return c.activate(ctx, ev, true)

	case PromptYes:
		c.cancelNotification(ctx, notify.PromptID)
		if c.state != Off {
			return nil
		}
		return c.activate(ctx, ev, false)

	case PromptNo:
		c.cancelNotification(ctx, notify.PromptID)
		if c.state != Off {
			return nil
		}
		if err := c.store.SetModeState(ctx, model.ModeState{}); err != nil {
			return c.persistFailed(ev, err)
		}
		return nil

	case ToggleOff:
		if c.state == Off {
			return nil
		}
		return c.deactivate(ctx, ev, "Shopping mode stopped")

	case GeofenceExit:
		if c.state != Off {
			return nil
		}
		if err := c.notifier.Notify(ctx, promptNotification()); err != nil {
			log.Error("show prompt", "err", err)
		}
		return nil

	case GeofenceEnter:
		// A manual start is honoured even at home.
		if c.state != Active || c.manual {
			return nil
		}
		return c.deactivate(ctx, ev, "Back home, shopping mode stopped")

	case Snooze:
		if c.state != Active {
			return nil
		}
		return c.snooze(ctx, ev)

	case SnoozeExpired:
		if c.state != Snoozed {
			return nil
		}
		return c.activate(ctx, ev, false)

	case LocationLost:
		if c.state != Active {
			return nil
		}
		return c.locationFailed(ctx, ev, errors.New("location stream ended"))
	}
	return fmt.Errorf("unhandled event %s", ev)
}

// Restore resumes the persisted mode at start-up. It must run before the
// alarm scheduler restores its timers.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.store.ModeState(ctx)
	if err != nil {
		return fmt.Errorf("restore shopping mode: %w", err)
	}
	if err := st.Validate(); err != nil {
		log.Error("persisted mode state is inconsistent, starting off", "state", fmt.Sprintf("%+v", st), "err", err)
		st = model.ModeState{}
	}

	switch {
	case st.On:
		if err := c.startSession(); err != nil {
			return c.locationFailed(ctx, restore, err)
		}
		c.notify(ctx, ongoingNotification())
		c.transition(restore, Active, st.Manual, nil, "Shopping mode restored")

	case st.Snoozed():
		until := *st.SnoozedUntil
		_, pending, err := c.alarm.Pending(ctx, SnoozeToken)
		if err != nil {
			return fmt.Errorf("restore snooze alarm: %w", err)
		}
		if !pending {
			// Overdue deadlines fire as soon as the alarm is armed.
			if err := c.alarm.Schedule(ctx, SnoozeToken, until); err != nil {
				return fmt.Errorf("restore snooze alarm: %w", err)
			}
		}
		c.notify(ctx, snoozedNotification(until))
		c.transition(restore, Snoozed, false, &until, "")
	}
	return nil
}

// Shutdown stops sampling without touching the persisted flags, so the
// next Restore resumes where the process left off.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.stopSession()
	c.mu.Unlock()
}

func (c *Controller) activate(ctx context.Context, ev Event, manual bool) error {
	from := c.state
	if err := c.startSession(); err != nil {
		return c.locationFailed(ctx, ev, err)
	}
	if err := c.store.SetModeState(ctx, model.ModeState{On: true, Manual: manual}); err != nil {
		c.stopSession()
		return c.persistFailed(ev, err)
	}
	if from == Snoozed {
		c.cancelAlarm(ctx)
	}
	c.notify(ctx, ongoingNotification())

	msg := "Shopping mode is on"
	if ev == SnoozeExpired {
		msg = "Shopping mode resumed"
	}
	c.transition(ev, Active, manual, nil, msg)
	return nil
}

func (c *Controller) deactivate(ctx context.Context, ev Event, msg string) error {
	if err := c.store.SetModeState(ctx, model.ModeState{}); err != nil {
		return c.persistFailed(ev, err)
	}
	c.stopSession()
	if c.state == Snoozed {
		c.cancelAlarm(ctx)
	}
	c.runner.ClearCooldown()
	c.cancelNotification(ctx, notify.OngoingID)
	c.transition(ev, Off, false, nil, msg)
	return nil
}

func (c *Controller) snooze(ctx context.Context, ev Event) error {
	until := c.now().Add(c.cfg.Snooze)
	if err := c.alarm.Schedule(ctx, SnoozeToken, until); err != nil {
		return c.persistFailed(ev, err)
	}
	// The UI sees snoozed as off.
	if err := c.store.SetModeState(ctx, model.ModeState{SnoozedUntil: &until}); err != nil {
		c.cancelAlarm(ctx)
		return c.persistFailed(ev, err)
	}
	c.stopSession()
	c.notify(ctx, snoozedNotification(until))
	c.transition(ev, Snoozed, false, &until, "Shopping mode snoozed for "+c.cfg.Snooze.String())
	return nil
}

// locationFailed switches the mode off after sampling could not start or
// was lost.
func (c *Controller) locationFailed(ctx context.Context, ev Event, cause error) error {
	log.Warn("location unavailable, turning shopping mode off", "event", ev, "err", cause)
	c.stopSession()
	if c.state == Snoozed {
		c.cancelAlarm(ctx)
	}
	errs := []error{fmt.Errorf("%w: %w", ErrLocationUnavailable, cause)}
	if err := c.store.SetModeState(ctx, model.ModeState{}); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrPersist, err))
	}
	c.runner.ClearCooldown()
	c.cancelNotification(ctx, notify.OngoingID)
	c.transition(ev, Off, false, nil, "Location unavailable, shopping mode turned off")
	return errors.Join(errs...)
}

func (c *Controller) persistFailed(ev Event, err error) error {
	log.Error("persist shopping mode", "event", ev, "err", err)
	msg := "Couldn't save shopping mode: " + err.Error()
	c.viewMu.Lock()
	c.snap.Message = msg
	c.viewMu.Unlock()
	c.emit(Change{From: c.state, To: c.state, Manual: c.manual, Event: ev, Message: msg})
	return fmt.Errorf("%w: %w", ErrPersist, err)
}

func (c *Controller) transition(ev Event, to State, manual bool, until *time.Time, msg string) {
	from := c.state
	c.state, c.manual, c.snoozedUntil = to, manual, until

	c.viewMu.Lock()
	c.snap = Snapshot{State: to, Manual: manual, SnoozedUntil: until, Message: msg}
	c.viewMu.Unlock()

	c.metrics.ModeTransitions.WithLabelValues(to.String()).Inc()
	log.Info("shopping mode", "event", ev, "from", from, "to", to, "manual", manual)
	c.emit(Change{From: from, To: to, Manual: manual, Event: ev, Message: msg})
}

func (c *Controller) emit(ch Change) {
	c.viewMu.RLock()
	obs := slices.Clone(c.observers)
	c.viewMu.RUnlock()
	for _, fn := range obs {
		fn(ch)
	}
}

// startSession replaces any running session with a new subscription feeding
// the runner. The session context is independent of the caller's.
func (c *Controller) startSession() error {
	c.stopSession()

	ctx, cancel := context.WithCancel(context.Background())
	samples, err := c.loc.Subscribe(ctx, c.cfg.SampleInterval, c.cfg.MinDistance)
	if err != nil {
		cancel()
		return err
	}
	c.runner.Reset()

	s := &session{cancel: cancel, done: make(chan struct{})}
	c.session = s
	go func() {
		err := c.runner.Run(ctx, samples)
		close(s.done)
		if ctx.Err() == nil {
			c.sessionEnded(s, err)
		}
	}()
	return nil
}

// stopSession cancels the running session and waits for its evaluation to
// finish.
func (c *Controller) stopSession() {
	if c.session == nil {
		return
	}
	c.session.cancel()
	<-c.session.done
	c.session = nil
}

// sessionEnded runs when the location stream closed on its own.
func (c *Controller) sessionEnded(s *session, runErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return
	}
	log.Warn("location stream closed", "err", runErr)
	if err := c.handleLocked(context.Background(), LocationLost); err != nil {
		log.Error("location lost", "err", err)
	}
}

func (c *Controller) notify(ctx context.Context, n notify.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		log.Error("notify", "id", n.ID, "err", err)
	}
}

func (c *Controller) cancelNotification(ctx context.Context, id int) {
	if err := c.notifier.Cancel(ctx, id); err != nil {
		log.Error("cancel notification", "id", id, "err", err)
	}
}

func (c *Controller) cancelAlarm(ctx context.Context) {
	if err := c.alarm.Cancel(ctx, SnoozeToken); err != nil {
		log.Error("cancel snooze alarm", "err", err)
	}
}
