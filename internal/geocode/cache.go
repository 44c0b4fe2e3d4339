package geocode

import (
	"context"
	"sync"
	"time"

	"shuttlestops/internal/stop"
)

// Entry is one cached lookup. Lat and Lon are both nil for a name the
// geocoder definitively could not find.
type Entry struct {
	Lat        *float64   `json:"lat"`
	Lon        *float64   `json:"lon"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Found reports whether the entry carries a coordinate.
func (e Entry) Found() bool {
	return e.Lat != nil && e.Lon != nil
}

// Coordinate returns the cached coordinate, or nil for a not-found entry.
func (e Entry) Coordinate() *stop.Coordinate {
	if !e.Found() {
		return nil
	}
	return &stop.Coordinate{Lat: *e.Lat, Lon: *e.Lon}
}

// FoundEntry builds an entry for a resolved coordinate.
func FoundEntry(c stop.Coordinate, at time.Time) Entry {
	lat, lon := c.Lat, c.Lon
	at = at.UTC()
	return Entry{Lat: &lat, Lon: &lon, ResolvedAt: &at}
}

// NotFoundEntry builds an explicit not-found marker.
func NotFoundEntry(at time.Time) Entry {
	at = at.UTC()
	return Entry{ResolvedAt: &at}
}

// Store loads and saves the whole cache. Implementations exist for a JSON
// file and a SQLite database.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// Cache maps normalized stop names to geocode entries. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// NewCache returns a cache seeded with entries. Keys are normalized on the
// way in, so files written by older tools with raw names still hit.
func NewCache(entries map[string]Entry) *Cache {
	c := &Cache{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		if k := stop.NormalizeName(name); k != "" {
			c.entries[k] = e
		}
	}
	return c
}

// Get looks up name after normalization.
func (c *Cache) Get(name string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[stop.NormalizeName(name)]
	return e, ok
}

// Put stores e under the normalized name.
func (c *Cache) Put(name string, e Entry) {
	k := stop.NormalizeName(name)
	if k == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = e
	c.dirty = true
}

// Invalidate removes name so the next resolution queries the geocoder again.
func (c *Cache) Invalidate(name string) bool {
	k := stop.NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	c.dirty = true
	return true
}

// Entries returns a copy of the cache contents.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		out[k] = e
	}
	return out
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dirty reports whether the cache changed since it was loaded.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Load reads a cache from s.
func Load(ctx context.Context, s Store) (*Cache, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewCache(entries), nil
}

// Save writes the cache to s.
func (c *Cache) Save(ctx context.Context, s Store) error {
	return s.Save(ctx, c.Entries())
}
