package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachedSearch returns the cached payload for key when it is younger than
// maxAge. maxAge <= 0 accepts any age.
func (s *Store) CachedSearch(ctx context.Context, key string, maxAge time.Duration) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		payload string
		fetched int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT json, fetched_at FROM search_cache WHERE key = ?`, key).
		Scan(&payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read search cache: %w", err)
	}
	if maxAge > 0 && time.Since(time.UnixMilli(fetched)) > maxAge {
		return "", false, nil
	}
	return payload, true, nil
}

// PutSearch stores a successful search payload.
func (s *Store) PutSearch(ctx context.Context, key, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO search_cache(key, json, fetched_at) VALUES(?,?,?)`,
		key, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}
	return nil
}

// PruneSearchCache drops entries older than maxAge.
func (s *Store) PruneSearchCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune search cache: %w", err)
	}
	return res.RowsAffected()
}
