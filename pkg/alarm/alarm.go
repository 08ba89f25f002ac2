// Package alarm schedules one-shot wake-ups that survive a restart. Alarms
// are persisted and armed with an in-process timer; Restore re-arms them at
// start-up and fires overdue ones immediately.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/store"
)

// Store persists alarms. Implemented by *store.Store.
type Store interface {
	PutAlarm(ctx context.Context, token string, at time.Time) error
	DeleteAlarm(ctx context.Context, token string) error
	Alarm(ctx context.Context, token string) (time.Time, error)
	Alarms(ctx context.Context) (map[string]time.Time, error)
}

// Handler is called from the timer goroutine when an alarm fires.
type Handler func(ctx context.Context, token string)

var log = logger.With("alarm")

// Scheduler keeps at most one outstanding alarm per token.
type Scheduler struct {
	store Store

	mu      sync.Mutex
	handler Handler
	timers  map[string]armed
	gen     uint64
	closed  bool
}

type armed struct {
	timer *time.Timer
	gen   uint64
}

func New(st Store, h Handler) *Scheduler {
	return &Scheduler{store: st, handler: h, timers: make(map[string]armed)}
}

// SetHandler replaces the fire handler.
func (s *Scheduler) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Schedule persists and arms the alarm, replacing any previous one for token.
func (s *Scheduler) Schedule(ctx context.Context, token string, at time.Time) error {
	if err := s.store.PutAlarm(ctx, token, at); err != nil {
		return fmt.Errorf("schedule %s: %w", token, err)
	}
	s.arm(token, at)
	log.Debug("scheduled", "token", token, "at", at.Format(time.RFC3339))
	return nil
}

// Cancel disarms and forgets the alarm. Cancelling an unknown token is a
// no-op.
func (s *Scheduler) Cancel(ctx context.Context, token string) error {
	s.mu.Lock()
	if a, ok := s.timers[token]; ok {
		a.timer.Stop()
		delete(s.timers, token)
	}
	s.mu.Unlock()
	if err := s.store.DeleteAlarm(ctx, token); err != nil {
		return fmt.Errorf("cancel %s: %w", token, err)
	}
	return nil
}

// Pending reports when token fires, if it is scheduled.
func (s *Scheduler) Pending(ctx context.Context, token string) (time.Time, bool, error) {
	at, err := s.store.Alarm(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Restore arms every persisted alarm and returns how many were armed.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	all, err := s.store.Alarms(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore alarms: %w", err)
	}
	for token, at := range all {
		s.arm(token, at)
		log.Info("restored", "token", token, "at", at.Format(time.RFC3339))
	}
	return len(all), nil
}

// Close stops every timer without touching persisted alarms.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, token)
	}
	s.closed = true
}

func (s *Scheduler) arm(token string, at time.Time) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[token]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[token] = armed{timer: time.AfterFunc(d, func() { s.fire(token, gen) }), gen: gen}
}

func (s *Scheduler) fire(token string, gen uint64) {
	s.mu.Lock()
	// A replaced or cancelled timer that already started must not fire.
	if cur, ok := s.timers[token]; !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, token)
	h := s.handler
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.store.DeleteAlarm(ctx, token); err != nil {
		log.Error("delete fired alarm", "token", token, "err", err)
	}
	log.Debug("fired", "token", token)
	if h != nil {
		h(ctx, token)
	}
}
