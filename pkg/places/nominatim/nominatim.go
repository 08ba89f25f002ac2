// Package nominatim searches nearby places with OpenStreetMap's Nominatim
// free-text search. Results are cached in the search cache table.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muesli/gominatim"
	"golang.org/x/time/rate"

	"github.com/rubiojr/shopsense/pkg/category"
	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/places"
)

const (
	DefaultServer = "https://nominatim.openstreetmap.org"
	// DefaultRetries is the number of extra attempts after a transient error.
	DefaultRetries = 1
	// DefaultLimit is the number of results requested per term.
	DefaultLimit = 10
	// Nominatim's usage policy allows one request per second.
	minInterval = time.Second
	retryDelay  = 150 * time.Millisecond
)

var log = logger.With("nominatim")

// gominatim keeps its server in a package variable.
var serverOnce sync.Once

// Cache stores raw result payloads by key.
type Cache interface {
	CachedSearch(ctx context.Context, key string, maxAge time.Duration) (string, bool, error)
	PutSearch(ctx context.Context, key, payload string) error
}

type queryFunc func(q string, limit int) ([]gominatim.SearchResult, error)

type Client struct {
	cache    Cache
	cacheTTL time.Duration
	limiter  *rate.Limiter
	retries  int
	limit    int
	query    queryFunc
}

// Option customises a Client.
type Option func(*Client)

// WithCache enables result caching for ttl (<= 0 keeps entries forever).
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithRetries sets the number of transient retries (0..5).
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 && n <= 5 {
			c.retries = n
		}
	}
}

// WithInterval sets the minimum spacing between requests.
func WithInterval(d time.Duration) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// New returns a client for server (DefaultServer when empty). The server is
// process-wide; only the first call sets it.
func New(server string, opts ...Option) *Client {
	if strings.TrimSpace(server) == "" {
		server = DefaultServer
	}
	serverOnce.Do(func() { gominatim.SetServer(server) })

	c := &Client{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		retries: DefaultRetries,
		limit:   DefaultLimit,
		query:   search,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func search(q string, limit int) ([]gominatim.SearchResult, error) {
	qObj := gominatim.SearchQuery{
		Q:     q,
		Limit: limit,
	}
	return qObj.Get()
}

// SearchNearby implements places.Searcher with one query per type. Failed
// terms are logged and skipped unless every term failed.
func (c *Client) SearchNearby(ctx context.Context, center geomath.Point, radiusMeters float64, types []string) ([]model.NearbyPlace, error) {
	var (
		sets    [][]model.NearbyPlace
		lastErr error
		failed  int
	)
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.searchTerm(ctx, category.OSMTerm(t), center, radiusMeters)
		if err != nil {
			log.Warn("term search failed", "term", t, "err", err)
			lastErr = err
			failed++
			continue
		}
		sets = append(sets, res)
	}
	if failed > 0 && failed == len(types) {
		return nil, lastErr
	}
	return places.WithinRadius(places.MergeAndDedupe(sets...), center, radiusMeters), nil
}

func cacheKey(term string, center geomath.Point, radius float64) string {
	// ~11 m grid keeps neighbouring samples on the same entry.
	return fmt.Sprintf("nominatim|%s|%.4f,%.4f|%.0f", term, center.Lat, center.Lng, radius)
}

func (c *Client) searchTerm(ctx context.Context, term string, center geomath.Point, radius float64) ([]model.NearbyPlace, error) {
	key := cacheKey(term, center, radius)
	if c.cache != nil {
		raw, ok, err := c.cache.CachedSearch(ctx, key, c.cacheTTL)
		if err != nil {
			log.Warn("cache read failed", "key", key, "err", err)
		}
		if ok {
			var cached []model.NearbyPlace
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				log.Debug("cache hit", "key", key, "results", len(cached))
				return cached, nil
			}
			log.Warn("cache entry unreadable, refetching", "key", key)
		}
	}

	res, err := c.fetch(ctx, fmt.Sprintf("%s near %f,%f", term, center.Lat, center.Lng))
	if err != nil {
		return nil, err
	}

	out := make([]model.NearbyPlace, 0, len(res))
	for _, r := range res {
		p, ok := toPlace(r)
		if !ok {
			continue
		}
		out = append(out, p)
	}

	// Only successful fetches are cached, empty ones included.
	if c.cache != nil {
		b, _ := json.Marshal(out)
		if err := c.cache.PutSearch(ctx, key, string(b)); err != nil {
			log.Warn("cache write failed", "key", key, "err", err)
		}
	}
	return out, nil
}

// fetch runs the blocking gominatim call off the caller's goroutine so ctx
// cancellation is honoured; an abandoned call finishes in the background.
func (c *Client) fetch(ctx context.Context, q string) ([]gominatim.SearchResult, error) {
	attempts := c.retries + 1
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		type result struct {
			res []gominatim.SearchResult
			err error
		}
		ch := make(chan result, 1)
		go func() {
			res, err := c.query(q, c.limit)
			ch <- result{res, err}
		}()

		var r result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r = <-ch:
		}
		if r.err == nil {
			if attempt > 1 {
				log.Info("recovered", "attempts", attempt, "query", q)
			}
			return r.res, nil
		}
		if !transient(r.err) || attempt == attempts {
			return nil, fmt.Errorf("nominatim search %q (attempt %d/%d): %w", q, attempt, attempts, r.err)
		}
		log.Warn("transient error, will retry", "attempt", attempt, "query", q, "err", r.err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// transient matches the truncated-body errors Nominatim produces under load.
func transient(err error) bool {
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") || strings.Contains(s, "EOF")
}

func toPlace(r gominatim.SearchResult) (model.NearbyPlace, bool) {
	if r.DisplayName == "" {
		return model.NearbyPlace{}, false
	}
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return model.NearbyPlace{}, false
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return model.NearbyPlace{}, false
	}
	return model.NearbyPlace{Name: shortName(r.DisplayName), Lat: lat, Lng: lng}, true
}

// shortName keeps the first component of a display name such as
// "Bäckerei Müller, Hauptstraße 3, Berlin".
func shortName(display string) string {
	if i := strings.IndexByte(display, ','); i > 0 {
		return strings.TrimSpace(display[:i])
	}
	return strings.TrimSpace(display)
}
