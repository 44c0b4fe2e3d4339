package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttlestops/internal/stop"
)

func at(lat, lon float64) *stop.Coordinate { return &stop.Coordinate{Lat: lat, Lon: lon} }

func mkStop(network, name string, c *stop.Coordinate, context ...string) stop.Stop {
	src := stop.SourceNone
	if c != nil {
		src = stop.SourceMapLink
	}
	return stop.Stop{
		Key:              stop.Key(network, name),
		Name:             name,
		Network:          network,
		Coordinate:       c,
		CoordinateSource: src,
		Context:          context,
	}
}

func snap(stops ...stop.Stop) *stop.Snapshot {
	s := &stop.Snapshot{Stops: stops}
	s.Sort()
	return s
}

func TestCompare_FirstRunAddsEverything(t *testing.T) {
	next := snap(mkStop("wro5", "Stop A", at(51.1, 17.0)))

	r := Compare(nil, next)
	require.Len(t, r.Added, 1)
	assert.Equal(t, "wro5:stop a", r.Added[0].Key)
	assert.Equal(t, stop.SourceMapLink, r.Added[0].CoordinateSource)
	assert.Empty(t, r.Removed)
	assert.Empty(t, r.Modified)
	assert.Equal(t, 1, r.Summary.Added)
	assert.Equal(t, 0, r.Summary.Previous)
	assert.NotEmpty(t, r.RunID)
}

func TestCompare_AddedRemovedModified(t *testing.T) {
	prev := snap(
		mkStop("ktw1", "Dworzec", at(50.2577, 19.0170), "07:15"),
		mkStop("ktw1", "Rondo", at(50.2600, 19.0200)),
		mkStop("ktw1", "Zajezdnia", nil),
	)
	next := snap(
		mkStop("ktw1", "Dworzec", at(50.2577, 19.0170), "07:15", "15:15"),
		mkStop("ktw1", "Rondo", at(50.2600, 19.0200)),
		mkStop("ktw1", "Huta", at(50.3, 19.1)),
	)

	r := Compare(prev, next)
	require.Len(t, r.Added, 1)
	assert.Equal(t, "ktw1:huta", r.Added[0].Key)
	require.Len(t, r.Removed, 1)
	assert.Equal(t, "ktw1:zajezdnia", r.Removed[0].Key)
	require.Len(t, r.Modified, 1)
	assert.Equal(t, "ktw1:dworzec", r.Modified[0].Key)
	require.Len(t, r.Modified[0].Fields, 1)
	assert.Equal(t, FieldContext, r.Modified[0].Fields[0].Field)
	assert.Nil(t, r.Modified[0].DistanceMeters)

	assert.Equal(t, Summary{Previous: 3, Current: 3, Added: 1, Removed: 1, Modified: 1, Unchanged: 1}, r.Summary)
}

func TestCompare_Tolerance(t *testing.T) {
	tests := []struct {
		name     string
		next     *stop.Coordinate
		modified bool
	}{
		{"identical", at(51.0, 17.0), false},
		{"sub-tolerance jitter", at(51.000005, 17.000005), false},
		{"moved north", at(51.0001, 17.0), true},
		{"moved west", at(51.0, 16.9999), true},
		{"lost coordinates", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := snap(mkStop("", "Stop", at(51.0, 17.0)))
			next := snap(mkStop("", "Stop", tt.next))

			r := Compare(prev, next)
			assert.Equal(t, tt.modified, len(r.Modified) == 1)
			if tt.modified {
				assert.Equal(t, FieldCoordinate, r.Modified[0].Fields[0].Field)
			} else {
				assert.Equal(t, 1, r.Summary.Unchanged)
			}
		})
	}
}

func TestCompare_MovementDistance(t *testing.T) {
	prev := snap(mkStop("wro", "Most", at(51.0, 17.0)))
	next := snap(mkStop("wro", "Most", at(51.00045, 17.0)))

	r := Compare(prev, next)
	require.Len(t, r.Modified, 1)
	require.NotNil(t, r.Modified[0].DistanceMeters)
	assert.InDelta(t, 50, *r.Modified[0].DistanceMeters, 1)
}

func TestCompare_CustomTolerance(t *testing.T) {
	prev := snap(mkStop("wro", "Most", at(51.0, 17.0)))
	next := snap(mkStop("wro", "Most", at(51.0001, 17.0)))

	assert.Len(t, Compare(prev, next, WithTolerance(1e-3)).Modified, 0)
}

func TestCompare_IdenticalSnapshotsEmpty(t *testing.T) {
	stops := []stop.Stop{
		mkStop("poz1", "A", at(52.4, 16.9), "06:00"),
		mkStop("poz1", "B", nil),
	}
	stops[0].Routes = []string{"Linia 1"}
	prev, next := snap(stops...), snap(stops...)

	r := Compare(prev, next)
	assert.True(t, r.Empty())
	assert.Equal(t, 2, r.Summary.Unchanged)
}

func TestCompare_EveryKeyClassifiedOnce(t *testing.T) {
	prev := snap(
		mkStop("a", "One", at(1, 1)),
		mkStop("a", "Two", at(2, 2)),
		mkStop("a", "Three", nil),
	)
	next := snap(
		mkStop("a", "Two", at(2.5, 2)),
		mkStop("a", "Three", nil),
		mkStop("a", "Four", at(4, 4)),
	)

	r := Compare(prev, next)
	seen := map[string]int{}
	for _, s := range r.Added {
		seen[s.Key]++
	}
	for _, s := range r.Removed {
		seen[s.Key]++
	}
	for _, c := range r.Modified {
		seen[c.Key]++
	}
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 1, r.Summary.Unchanged)
}

func TestCompare_Routes(t *testing.T) {
	a := mkStop("lcj2", "Rynek", at(51.0, 19.0))
	a.Routes = []string{"Trasa Łódź 1"}
	b := mkStop("lcj2", "Rynek", at(51.0, 19.0))
	b.Routes = []string{"Trasa Łódź 2"}

	r := Compare(snap(a), snap(b))
	assert.Equal(t, []string{"lcj2-trasa-lodz-2"}, r.RoutesAdded)
	assert.Equal(t, []string{"lcj2-trasa-lodz-1"}, r.RoutesRemoved)
	assert.False(t, r.Empty())
	assert.Empty(t, r.Modified, "routes do not modify a stop")
}

func TestNewReport(t *testing.T) {
	now := time.Date(2024, 6, 1, 4, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	conflicts := []stop.Conflict{{Key: "x", DistanceMeters: 120}}

	r := NewReport(WithClock(func() time.Time { return now }), WithConflicts(conflicts))
	assert.True(t, r.Empty())
	assert.Equal(t, time.UTC, r.GeneratedAt.Location())
	assert.True(t, now.Equal(r.GeneratedAt))
	assert.NotNil(t, r.Added)
	assert.NotNil(t, r.RoutesAdded)
	assert.Equal(t, 1, r.Summary.Conflicts)
}

func TestRouteSlugs(t *testing.T) {
	s := snap(
		stop.Stop{Key: "a", Network: "wro5", Routes: []string{"Kierunek Bielany", "Kierunek Bielany"}},
		stop.Stop{Key: "b", Routes: []string{"Linia Nocna"}},
	)
	assert.Equal(t, []string{"linia-nocna", "wro5-kierunek-bielany"}, RouteSlugs(s))
	assert.Nil(t, RouteSlugs(nil))
}
