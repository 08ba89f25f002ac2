package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutAlarm records (or moves) the alarm identified by token.
func (s *Store) PutAlarm(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO alarms(token, fire_at) VALUES(?,?)
		ON CONFLICT(token) DO UPDATE SET fire_at = excluded.fire_at`, token, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("write alarm %s: %w", token, err)
	}
	return nil
}

// DeleteAlarm removes an alarm. Missing alarms are not an error.
func (s *Store) DeleteAlarm(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete alarm %s: %w", token, err)
	}
	return nil
}

// Alarm returns when the alarm fires, or ErrNotFound.
func (s *Store) Alarm(ctx context.Context, token string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT fire_at FROM alarms WHERE token = ?`, token).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("alarm %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read alarm %s: %w", token, err)
	}
	return time.UnixMilli(ms), nil
}

// Alarms returns every pending alarm keyed by token.
func (s *Store) Alarms(ctx context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT token, fire_at FROM alarms`)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			token string
			ms    int64
		)
		if err := rows.Scan(&token, &ms); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		out[token] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}
