// Package engine decides, per location sample, which nearby places to
// recommend for the unchecked items of the shopping list.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rubiojr/shopsense/pkg/category"
	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/metrics"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/notify"
	"github.com/rubiojr/shopsense/pkg/places"
	"github.com/rubiojr/shopsense/pkg/throttle"
)

var log = logger.With("engine")

// Items is the read side of the shopping list.
type Items interface {
	ListUncheckedItems(ctx context.Context) ([]model.ToBuyItem, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

type Config struct {
	// MoveThreshold is the distance from the last evaluated point below
	// which a sample is not searched.
	MoveThreshold float64
	// HeadingMinSpeed is the speed (m/s) from which a heading is estimated.
	HeadingMinSpeed float64
	// HeadingCone is the largest angle (degrees) between heading and the
	// bearing to a place for the place to be kept.
	HeadingCone   float64
	SearchTimeout time.Duration
	// Concurrency bounds parallel category searches.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		MoveThreshold:   100,
		HeadingMinSpeed: 0.5,
		HeadingCone:     60,
		SearchTimeout:   places.DefaultTimeout,
		Concurrency:     4,
	}
}

// Skip explains why an evaluation produced nothing.
type Skip string

const (
	SkipNone         Skip = ""
	SkipNotMoved     Skip = "not_moved"
	SkipNoItems      Skip = "no_items"
	SkipNoCategories Skip = "no_searchable_categories"
	SkipCancelled    Skip = "cancelled"
)

// Recommendation is the best place found for a category.
type Recommendation struct {
	Category       string          `json:"category"`
	Place          model.Candidate `json:"place"`
	ItemIDs        []int64         `json:"item_ids"`
	ItemNames      []string        `json:"item_names"`
	Throttled      bool            `json:"throttled,omitempty"`
	NotificationID int             `json:"notification_id,omitempty"`
}

// Result describes one evaluation.
type Result struct {
	Sample          model.LocationSample `json:"sample"`
	Skipped         Skip                 `json:"skipped,omitempty"`
	Radius          float64              `json:"radius_m,omitempty"`
	Heading         *float64             `json:"heading,omitempty"`
	Recommendations []Recommendation     `json:"recommendations,omitempty"`
}

// Engine evaluations are serialised: the anchors and the cooldown only ever
// see one evaluation at a time.
type Engine struct {
	items    Items
	searcher places.Searcher
	mapper   *category.Mapper
	cooldown *throttle.Cooldown
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	mu sync.Mutex
	// lastSearch anchors the movement gate; lastSample feeds the heading.
	lastSearch *geomath.Point
	lastSample *geomath.Point
	nextID     int

	lastMu sync.RWMutex
	last   *Result
}

// Option customises an Engine.
type Option func(*Engine)

func WithMapper(m *category.Mapper) Option { return func(e *Engine) { e.mapper = m } }
func WithCooldown(c *throttle.Cooldown) Option { return func(e *Engine) { e.cooldown = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithConfig(c Config) Option { return func(e *Engine) { e.cfg = c } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(items Items, searcher places.Searcher, n notify.Notifier, opts ...Option) *Engine {
	e := &Engine{
		items:    items,
		searcher: searcher,
		mapper:   category.Default(),
		cooldown: throttle.New(throttle.DefaultWindow),
		notifier: n,
		metrics:  metrics.Discard(),
		cfg:      DefaultConfig(),
		now:      time.Now,
		nextID:   notify.NearbyBaseID,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cfg.Concurrency <= 0 {
		e.cfg.Concurrency = 1
	}
	if e.cfg.SearchTimeout <= 0 {
		e.cfg.SearchTimeout = places.DefaultTimeout
	}
	return e
}

// Reset forgets both anchors, so the next sample is always evaluated.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.lastSearch, e.lastSample = nil, nil
	e.mu.Unlock()
}

// ClearCooldown forgets every shown recommendation.
func (e *Engine) ClearCooldown() {
	e.cooldown.Reset()
}

// Last returns the most recent evaluation, if any.
func (e *Engine) Last() (Result, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

func (e *Engine) setLast(r Result) {
	e.lastMu.Lock()
	e.last = &r
	e.lastMu.Unlock()
}

type group struct {
	cat   model.Category
	items []model.ToBuyItem
}

// Evaluate runs the recommendation pipeline for one sample. Search failures
// only cost their own category; an error is returned when the shopping list
// cannot be read or ctx was cancelled, and in both cases the anchors are
// left untouched.
func (e *Engine) Evaluate(ctx context.Context, s model.LocationSample) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := geomath.Point{Lat: s.Lat, Lng: s.Lng}
	res := Result{Sample: s}

	if e.lastSearch != nil {
		if d := geomath.Distance(*e.lastSearch, p); d < e.cfg.MoveThreshold {
			log.Debug("movement below threshold, skipping", "distance", d)
			e.metrics.GatedSamples.Inc()
			e.lastSample = &p
			res.Skipped = SkipNotMoved
			e.setLast(res)
			return res, nil
		}
	}

	if e.lastSample != nil && s.Speed >= e.cfg.HeadingMinSpeed {
		h := geomath.Bearing(*e.lastSample, p)
		res.Heading = &h
	}
	res.Radius = geomath.SearchRadius(s.Speed)
	e.metrics.Evaluations.Inc()

	groups, skip, err := e.groups(ctx)
	if err != nil {
		return res, err
	}
	if skip != SkipNone {
		log.Debug("nothing to search", "reason", skip)
		res.Skipped = skip
		e.commit(p, res)
		return res, nil
	}

	found := e.search(ctx, p, res.Radius, res.Heading, groups)
	if err := ctx.Err(); err != nil {
		res.Skipped = SkipCancelled
		return res, err
	}

	for i, g := range groups {
		c := found[i]
		if c == nil {
			continue
		}
		res.Recommendations = append(res.Recommendations, e.emit(ctx, g, *c))
	}
	e.commit(p, res)
	return res, nil
}

func (e *Engine) commit(p geomath.Point, res Result) {
	e.lastSearch = &p
	e.lastSample = &p
	e.setLast(res)
}

// groups buckets unchecked items by category, dropping items without a
// known category and the catch-all category. Groups are ordered by
// category id.
func (e *Engine) groups(ctx context.Context) ([]group, Skip, error) {
	items, err := e.items.ListUncheckedItems(ctx)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("list unchecked items: %w", err)
	}
	if len(items) == 0 {
		return nil, SkipNoItems, nil
	}
	cats, err := e.items.ListCategories(ctx)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("list categories: %w", err)
	}
	byID := make(map[int64]model.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	buckets := make(map[int64]*group)
	for _, it := range items {
		c, ok := byID[it.CategoryID]
		if !ok {
			log.Debug("no category for item, skipping", "item", it.Name, "category_id", it.CategoryID)
			continue
		}
		if !e.mapper.Searchable(c.Name) {
			continue
		}
		g, ok := buckets[c.ID]
		if !ok {
			g = &group{cat: c}
			buckets[c.ID] = g
		}
		g.items = append(g.items, it)
	}
	if len(buckets) == 0 {
		return nil, SkipNoCategories, nil
	}

	out := make([]group, 0, len(buckets))
	for _, g := range buckets {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cat.ID < out[j].cat.ID })
	return out, SkipNone, nil
}

// search queries every group in parallel and ranks the hits. found[i] is
// nil when group i has no candidate.
func (e *Engine) search(ctx context.Context, p geomath.Point, radius float64, heading *float64, groups []group) []*model.Candidate {
	found := make([]*model.Candidate, len(groups))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, gr := range groups {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			sctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
			defer cancel()

			types := e.mapper.Expand(gr.cat.Name)
			hits, err := e.searcher.SearchNearby(sctx, p, radius, types)
			if err != nil {
				if ctx.Err() != nil {
					log.Debug("search cancelled", "category", gr.cat.Name)
				} else {
					log.Warn("search failed", "category", gr.cat.Name, "err", err)
				}
				return nil
			}
			if c, ok := Rank(p, heading, e.cfg.HeadingCone, hits); ok {
				found[i] = &c
			}
			return nil
		})
	}
	_ = g.Wait()
	return found
}

// Rank returns the nearest place. With a heading, places whose bearing
// deviates from it by more than cone degrees are discarded first.
func Rank(origin geomath.Point, heading *float64, cone float64, hits []model.NearbyPlace) (model.Candidate, bool) {
	var (
		best  model.Candidate
		found bool
	)
	for _, h := range hits {
		pt := geomath.Point{Lat: h.Lat, Lng: h.Lng}
		if heading != nil && geomath.AngleDiff(*heading, geomath.Bearing(origin, pt)) > cone {
			continue
		}
		d := geomath.Distance(origin, pt)
		if !found || d < best.DistanceMeters {
			best = model.Candidate{NearbyPlace: h, DistanceMeters: d}
			found = true
		}
	}
	return best, found
}

// emit passes the candidate through the cooldown and notifies.
func (e *Engine) emit(ctx context.Context, g group, c model.Candidate) Recommendation {
	rec := Recommendation{Category: g.cat.Name, Place: c}
	for _, it := range g.items {
		rec.ItemIDs = append(rec.ItemIDs, it.ID)
		rec.ItemNames = append(rec.ItemNames, it.Name)
	}

	key := throttle.Key{Category: g.cat.Name, Place: c.Name}
	if !e.cooldown.ShouldNotify(key, e.now()) {
		log.Debug("recently shown, skipping", "key", key.String())
		e.metrics.Throttled.WithLabelValues(g.cat.Name).Inc()
		rec.Throttled = true
		return rec
	}

	rec.NotificationID = e.nextID
	e.nextID++
	n := NearbyNotification(rec.NotificationID, g.cat.Name, c, rec.ItemNames)
	log.Info("recommending", "category", g.cat.Name, "place", c.Name, "distance", int(c.DistanceMeters))
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Error("notify failed", "id", rec.NotificationID, "err", err)
	}
	e.metrics.Recommendations.WithLabelValues(g.cat.Name).Inc()
	return rec
}
