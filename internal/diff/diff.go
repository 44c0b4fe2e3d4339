// Package diff compares two snapshots and builds the change report.
package diff

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"shuttlestops/internal/geo"
	"shuttlestops/internal/stop"
)

// DefaultTolerance is the largest per-axis coordinate delta, in degrees,
// still treated as unchanged.
const DefaultTolerance = 1e-5

// Changed field names.
const (
	FieldCoordinate = "coordinate"
	FieldContext    = "context"
)

// StopRef identifies an added or removed stop.
type StopRef struct {
	Key              string                `json:"key"`
	Name             string                `json:"stop_name"`
	Network          string                `json:"network,omitempty"`
	Coordinate       *stop.Coordinate      `json:"coordinate,omitempty"`
	CoordinateSource stop.CoordinateSource `json:"coordinate_source"`
}

// FieldChange is one differing field of a modified stop.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Change describes a stop present in both snapshots whose data differs.
type Change struct {
	Key     string        `json:"key"`
	Name    string        `json:"stop_name"`
	Network string        `json:"network,omitempty"`
	Fields  []FieldChange `json:"fields"`
	// DistanceMeters is set when the stop moved between two known positions.
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

// Summary holds the report totals.
type Summary struct {
	Previous      int `json:"previous"`
	Current       int `json:"current"`
	Added         int `json:"added"`
	Removed       int `json:"removed"`
	Modified      int `json:"modified"`
	Unchanged     int `json:"unchanged"`
	RoutesAdded   int `json:"routes_added"`
	RoutesRemoved int `json:"routes_removed"`
	Conflicts     int `json:"conflicts"`
}

// Report is the change report between two runs. A key appears in at most
// one of Added, Removed and Modified.
type Report struct {
	RunID         string          `json:"run_id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Added         []StopRef       `json:"added"`
	Removed       []StopRef       `json:"removed"`
	Modified      []Change        `json:"modified"`
	RoutesAdded   []string        `json:"routes_added"`
	RoutesRemoved []string        `json:"routes_removed"`
	Conflicts     []stop.Conflict `json:"conflicts"`
	Summary       Summary         `json:"summary"`
}

// Empty reports whether nothing changed between the snapshots.
func (r *Report) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0 &&
		len(r.RoutesAdded) == 0 && len(r.RoutesRemoved) == 0
}

type options struct {
	tolerance float64
	now       func() time.Time
	conflicts []stop.Conflict
}

// Option configures Compare.
type Option func(*options)

// WithTolerance sets the per-axis coordinate tolerance in degrees.
func WithTolerance(deg float64) Option {
	return func(o *options) { o.tolerance = deg }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithConflicts attaches merge conflicts to the report.
func WithConflicts(c []stop.Conflict) Option {
	return func(o *options) { o.conflicts = c }
}

// NewReport returns a report with no changes.
func NewReport(opts ...Option) *Report {
	o := applyOptions(opts)
	conflicts := o.conflicts
	if conflicts == nil {
		conflicts = []stop.Conflict{}
	}
	return &Report{
		RunID:         uuid.NewString(),
		GeneratedAt:   o.now().UTC(),
		Added:         []StopRef{},
		Removed:       []StopRef{},
		Modified:      []Change{},
		RoutesAdded:   []string{},
		RoutesRemoved: []string{},
		Conflicts:     conflicts,
		Summary:       Summary{Conflicts: len(conflicts)},
	}
}

func applyOptions(opts []Option) options {
	o := options{tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Compare diffs next against prev. A nil prev means a first run, in which
// case every stop is added.
func Compare(prev, next *stop.Snapshot, opts ...Option) *Report {
	o := applyOptions(opts)
	r := NewReport(opts...)

	before := prev.ByKey()
	after := next.ByKey()

	for key, cur := range after {
		old, ok := before[key]
		if !ok {
			r.Added = append(r.Added, ref(cur))
			continue
		}
		if ch, changed := compareStop(old, cur, o.tolerance); changed {
			r.Modified = append(r.Modified, ch)
		} else {
			r.Summary.Unchanged++
		}
	}
	for key, old := range before {
		if _, ok := after[key]; !ok {
			r.Removed = append(r.Removed, ref(old))
		}
	}

	sort.Slice(r.Added, func(i, j int) bool { return r.Added[i].Key < r.Added[j].Key })
	sort.Slice(r.Removed, func(i, j int) bool { return r.Removed[i].Key < r.Removed[j].Key })
	sort.Slice(r.Modified, func(i, j int) bool { return r.Modified[i].Key < r.Modified[j].Key })

	prevRoutes, nextRoutes := RouteSlugs(prev), RouteSlugs(next)
	r.RoutesAdded = difference(nextRoutes, prevRoutes)
	r.RoutesRemoved = difference(prevRoutes, nextRoutes)

	r.Summary.Previous = len(before)
	r.Summary.Current = len(after)
	r.Summary.Added = len(r.Added)
	r.Summary.Removed = len(r.Removed)
	r.Summary.Modified = len(r.Modified)
	r.Summary.RoutesAdded = len(r.RoutesAdded)
	r.Summary.RoutesRemoved = len(r.RoutesRemoved)
	return r
}

func compareStop(old, cur stop.Stop, tol float64) (Change, bool) {
	ch := Change{Key: cur.Key, Name: cur.Name, Network: cur.Network}

	switch {
	case old.Coordinate == nil && cur.Coordinate == nil:
	case old.Coordinate == nil || cur.Coordinate == nil:
		ch.Fields = append(ch.Fields, FieldChange{Field: FieldCoordinate, Old: old.Coordinate, New: cur.Coordinate})
	case !geo.WithinDegrees(*old.Coordinate, *cur.Coordinate, tol):
		d := geo.Distance(*old.Coordinate, *cur.Coordinate)
		ch.DistanceMeters = &d
		ch.Fields = append(ch.Fields, FieldChange{Field: FieldCoordinate, Old: old.Coordinate, New: cur.Coordinate})
	}

	if !slices.Equal(old.Context, cur.Context) {
		ch.Fields = append(ch.Fields, FieldChange{Field: FieldContext, Old: nonNil(old.Context), New: nonNil(cur.Context)})
	}
	return ch, len(ch.Fields) > 0
}

func ref(s stop.Stop) StopRef {
	return StopRef{
		Key:              s.Key,
		Name:             s.Name,
		Network:          s.Network,
		Coordinate:       s.Coordinate,
		CoordinateSource: s.CoordinateSource,
	}
}

// RouteSlugs returns the sorted, deduplicated route identifiers of a
// snapshot, each slugified from "<network>-<route title>".
func RouteSlugs(s *stop.Snapshot) []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, st := range s.Stops {
		for _, route := range st.Routes {
			id := route
			if st.Network != "" {
				id = st.Network + "-" + route
			}
			if sl := slug.Make(id); sl != "" {
				seen[sl] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for sl := range seen {
		out = append(out, sl)
	}
	sort.Strings(out)
	return out
}

// difference returns the elements of a missing from b. Both are sorted.
func difference(a, b []string) []string {
	out := []string{}
	for _, s := range a {
		if _, found := slices.BinarySearch(b, s); !found {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
