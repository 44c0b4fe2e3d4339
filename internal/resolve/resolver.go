// Package resolve finds coordinates for stops that no source positioned.
//
// Layers are tried in order and the first answer wins: the previous
// snapshot, the geocode cache, then one rate-limited geocoder request.
package resolve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shuttlestops/internal/fetch"
	"shuttlestops/internal/geocode"
	"shuttlestops/internal/stop"
)

// Geocoder looks up a stop name. A nil result with a nil error means the
// name is definitively unknown.
type Geocoder interface {
	Search(ctx context.Context, name string) (*geocode.Result, error)
}

// Resolution is the outcome for one stop. Source is stop.SourceNone and
// Coordinate is nil when nothing was found.
type Resolution struct {
	Coordinate *stop.Coordinate
	Source     stop.CoordinateSource
}

// Resolved reports whether a coordinate was found.
func (r Resolution) Resolved() bool { return r.Coordinate != nil }

var unresolved = Resolution{Source: stop.SourceNone}

// Stats counts outcomes per layer for the run summary.
type Stats struct {
	Previous         int `json:"previous_snapshot"`
	CacheHits        int `json:"cache_hits"`
	CacheNotFound    int `json:"cache_not_found"`
	GeocoderCalls    int `json:"geocoder_calls"`
	GeocoderFound    int `json:"geocoder_found"`
	GeocoderNotFound int `json:"geocoder_not_found"`
	GeocoderErrors   int `json:"geocoder_errors"`
	Unresolved       int `json:"unresolved"`
}

// Options configures a Resolver.
type Options struct {
	GeocodeEnabled bool
	GeocodeDelay   time.Duration
	Now            func() time.Time
}

// Resolver implements the layered lookup. It is safe for concurrent use.
type Resolver struct {
	cache    *geocode.Cache
	geocoder Geocoder
	enabled  bool
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	failed map[string]struct{} // names whose lookup failed this run
	stats  Stats
}

// New creates a Resolver. A nil cache starts empty; a nil geocoder
// disables external lookups regardless of opts.
func New(cache *geocode.Cache, geocoder Geocoder, opts Options, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = geocode.NewCache(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		cache:    cache,
		geocoder: geocoder,
		enabled:  opts.GeocodeEnabled && geocoder != nil,
		limiter:  fetch.NewLimiter(opts.GeocodeDelay),
		now:      opts.Now,
		logger:   logger,
		failed:   make(map[string]struct{}),
	}
}

// Resolve returns the best coordinate for name in network.
func (r *Resolver) Resolve(ctx context.Context, prev *stop.Index, name, network string) Resolution {
	if st, ok := prev.Lookup(network, name); ok {
		r.count(func(s *Stats) { s.Previous++ })
		c := *st.Coordinate
		return Resolution{Coordinate: &c, Source: stop.SourcePrevious}
	}

	if !r.enabled {
		r.count(func(s *Stats) { s.Unresolved++ })
		return unresolved
	}

	if e, ok := r.cache.Get(name); ok {
		if e.Found() {
			r.count(func(s *Stats) { s.CacheHits++ })
			return Resolution{Coordinate: e.Coordinate(), Source: stop.SourceGeocoder}
		}
		r.count(func(s *Stats) { s.CacheNotFound++; s.Unresolved++ })
		return unresolved
	}

	key := stop.NormalizeName(name)
	r.mu.Lock()
	_, failedBefore := r.failed[key]
	r.mu.Unlock()
	if failedBefore {
		r.count(func(s *Stats) { s.Unresolved++ })
		return unresolved
	}

	return r.lookup(ctx, name, key)
}

func (r *Resolver) lookup(ctx context.Context, name, key string) Resolution {
	if err := r.limiter.Wait(ctx); err != nil {
		r.count(func(s *Stats) { s.Unresolved++ })
		return unresolved
	}

	r.count(func(s *Stats) { s.GeocoderCalls++ })
	res, err := r.geocoder.Search(ctx, name)
	if err != nil {
		// Not definitive, so only remembered for this run.
		r.mu.Lock()
		r.failed[key] = struct{}{}
		r.stats.GeocoderErrors++
		r.stats.Unresolved++
		r.mu.Unlock()
		r.logger.Warn("geocode failed", "name", name, "error", err)
		return unresolved
	}

	if res == nil {
		r.cache.Put(name, geocode.NotFoundEntry(r.now()))
		r.count(func(s *Stats) { s.GeocoderNotFound++; s.Unresolved++ })
		r.logger.Debug("geocode not found", "name", name)
		return unresolved
	}

	c := res.Coordinate()
	if !c.Valid() {
		r.cache.Put(name, geocode.NotFoundEntry(r.now()))
		r.count(func(s *Stats) { s.GeocoderNotFound++; s.Unresolved++ })
		r.logger.Warn("geocoder returned invalid coordinate", "name", name, "lat", c.Lat, "lon", c.Lon)
		return unresolved
	}

	r.cache.Put(name, geocode.FoundEntry(*c, r.now()))
	r.count(func(s *Stats) { s.GeocoderFound++ })
	r.logger.Debug("geocoded", "name", name, "lat", c.Lat, "lon", c.Lon, "match", res.DisplayName)
	return Resolution{Coordinate: c, Source: stop.SourceGeocoder}
}

// Stats returns a copy of the outcome counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Resolver) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}
