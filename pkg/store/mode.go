package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/shopsense/pkg/model"
)

// ModeState returns the persisted shopping mode flags. A fresh database
// reports the zero state (OFF).
func (s *Store) ModeState(ctx context.Context) (model.ModeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		on, manual int
		until      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_on, manual, snoozed_until FROM mode_state WHERE id = 1`).Scan(&on, &manual, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModeState{}, nil
	}
	if err != nil {
		return model.ModeState{}, fmt.Errorf("read mode state: %w", err)
	}

	st := model.ModeState{On: on != 0, Manual: manual != 0}
	if until.Valid {
		t := time.UnixMilli(until.Int64)
		st.SnoozedUntil = &t
	}
	return st, nil
}

// SetModeState replaces the persisted flags. States failing Validate are
// rejected.
func (s *Store) SetModeState(ctx context.Context, st model.ModeState) error {
	if err := st.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var until any
	if st.SnoozedUntil != nil {
		until = st.SnoozedUntil.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO mode_state(id, is_on, manual, snoozed_until) VALUES(1,?,?,?)
		ON CONFLICT(id) DO UPDATE SET is_on = excluded.is_on, manual = excluded.manual, snoozed_until = excluded.snoozed_until`,
		boolInt(st.On), boolInt(st.Manual), until)
	if err != nil {
		return fmt.Errorf("write mode state: %w", err)
	}
	return nil
}

// Home returns the configured home region or ErrNotFound.
func (s *Store) Home(ctx context.Context) (model.HomeLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h model.HomeLocation
	err := s.db.QueryRowContext(ctx, `SELECT lat, lng, radius_m FROM home WHERE id = 1`).
		Scan(&h.Lat, &h.Lng, &h.RadiusMeters)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HomeLocation{}, fmt.Errorf("home: %w", ErrNotFound)
	}
	if err != nil {
		return model.HomeLocation{}, fmt.Errorf("read home: %w", err)
	}
	return h, nil
}

// SetHome stores the home region.
func (s *Store) SetHome(ctx context.Context, h model.HomeLocation) error {
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO home(id, lat, lng, radius_m) VALUES(1,?,?,?)
		ON CONFLICT(id) DO UPDATE SET lat = excluded.lat, lng = excluded.lng, radius_m = excluded.radius_m`,
		h.Lat, h.Lng, h.RadiusMeters)
	if err != nil {
		return fmt.Errorf("write home: %w", err)
	}
	return nil
}

// ClearHome removes the home region.
func (s *Store) ClearHome(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM home WHERE id = 1`); err != nil {
		return fmt.Errorf("clear home: %w", err)
	}
	return nil
}
