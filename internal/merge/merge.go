// Package merge reconciles adapter records into one canonical snapshot.
package merge

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"shuttlestops/internal/geo"
	"shuttlestops/internal/resolve"
	"shuttlestops/internal/stop"
)

// DefaultConflictDistance is the distance in meters beyond which two
// positioned observations of one stop are reported as a conflict.
const DefaultConflictDistance = 50.0

// Resolver fills in coordinates for groups without any.
type Resolver interface {
	Resolve(ctx context.Context, prev *stop.Index, name, network string) resolve.Resolution
}

// Options configures a Merger.
type Options struct {
	// ConflictDistance in meters; zero or less disables conflict detection.
	ConflictDistance float64
	Now              func() time.Time
}

// Stats summarizes one merge.
type Stats struct {
	Records   int                           `json:"records"`
	Dropped   int                           `json:"dropped"`
	Stops     int                           `json:"stops"`
	BySource  map[stop.CoordinateSource]int `json:"by_source"`
	Conflicts int                           `json:"conflicts"`
	// Scoped counts network-less records assigned to a network by name.
	Scoped int `json:"scoped"`
}

// Result is the merged snapshot plus what was noticed along the way.
type Result struct {
	Snapshot  *stop.Snapshot
	Conflicts []stop.Conflict
	Stats     Stats
}

// Merger groups records by normalized key and builds one Stop per group.
type Merger struct {
	resolver         Resolver
	conflictDistance float64
	now              func() time.Time
	logger           *slog.Logger
}

// New creates a Merger. A nil resolver leaves unpositioned stops as-is.
func New(resolver Resolver, opts Options, logger *slog.Logger) *Merger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Merger{
		resolver:         resolver,
		conflictDistance: opts.ConflictDistance,
		now:              opts.Now,
		logger:           logger,
	}
}

// Merge combines batches of records. The output depends only on the set of
// records and prev, never on batch or record order.
func (m *Merger) Merge(ctx context.Context, prev *stop.Snapshot, batches ...[]stop.Record) (*Result, error) {
	res := &Result{
		Conflicts: []stop.Conflict{},
		Stats:     Stats{BySource: make(map[stop.CoordinateSource]int)},
	}

	var recs []stop.Record
	for _, batch := range batches {
		for _, rec := range batch {
			res.Stats.Records++
			if rec.Key() == "" {
				res.Stats.Dropped++
				continue
			}
			if rec.Coordinate != nil && !rec.Coordinate.Valid() {
				rec.Coordinate = nil
			}
			recs = append(recs, rec)
		}
	}
	res.Stats.Scoped = scopeUnnetworked(recs, prev)

	groups := make(map[string][]stop.Record)
	for _, rec := range recs {
		key := rec.Key()
		groups[key] = append(groups[key], rec)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	idx := prev.Index()
	stops := make([]stop.Stop, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs := groups[key]
		slices.SortFunc(recs, compareRecords)

		st, conflicts := m.mergeGroup(key, recs)
		if st.Coordinate == nil && m.resolver != nil {
			r := m.resolver.Resolve(ctx, idx, st.Name, st.Network)
			st.Coordinate, st.CoordinateSource = r.Coordinate, r.Source
			if !r.Resolved() {
				m.logger.Debug("stop left without coordinates", "key", key, "name", st.Name)
			}
		}
		res.Conflicts = append(res.Conflicts, conflicts...)
		res.Stats.BySource[st.CoordinateSource]++
		stops = append(stops, st)
	}

	for _, c := range res.Conflicts {
		m.logger.Warn("conflicting coordinates", "key", c.Key,
			"chosen_source", c.ChosenSource, "other_source", c.OtherSource, "distance_m", c.DistanceMeters)
	}

	res.Snapshot = &stop.Snapshot{GeneratedAt: m.now().UTC(), Stops: stops}
	res.Stats.Stops = len(stops)
	res.Stats.Conflicts = len(res.Conflicts)
	return res, nil
}

// scopeUnnetworked assigns a network to records that carry none, when the
// normalized name is known under exactly one network. This run's records
// are consulted first, then the previous snapshot. Names seen under several
// networks, or none, keep the unscoped key.
func scopeUnnetworked(recs []stop.Record, prev *stop.Snapshot) int {
	current := make(map[string]map[string]bool)
	for _, rec := range recs {
		if net := stop.NormalizeNetwork(rec.Network); net != "" {
			addNetwork(current, stop.NormalizeName(rec.Name), net)
		}
	}
	previous := make(map[string]map[string]bool)
	if prev != nil {
		for _, st := range prev.Stops {
			if net := stop.NormalizeNetwork(st.Network); net != "" {
				addNetwork(previous, stop.NormalizeName(st.Name), net)
			}
		}
	}

	scoped := 0
	for i := range recs {
		if stop.NormalizeNetwork(recs[i].Network) != "" {
			continue
		}
		name := stop.NormalizeName(recs[i].Name)
		nets, ok := current[name]
		if !ok {
			nets = previous[name]
		}
		if len(nets) != 1 {
			continue
		}
		for net := range nets {
			recs[i].Network = net
		}
		scoped++
	}
	return scoped
}

func addNetwork(m map[string]map[string]bool, name, net string) {
	if m[name] == nil {
		m[name] = make(map[string]bool)
	}
	m[name][net] = true
}

// mergeGroup builds the stop for one key from records already in
// precedence order.
func (m *Merger) mergeGroup(key string, recs []stop.Record) (stop.Stop, []stop.Conflict) {
	first := recs[0]
	st := stop.Stop{
		Key:              key,
		Name:             first.Name,
		Network:          stop.NormalizeNetwork(first.Network),
		CoordinateSource: stop.SourceNone,
	}

	var chosen *stop.Record
	var conflicts []stop.Conflict
	seenOther := make(map[stop.Coordinate]bool)
	seenCtx := make(map[string]bool)
	routes := make(map[string]bool)
	sources := make(map[string]bool)

	for i := range recs {
		rec := &recs[i]
		for _, c := range rec.Context {
			if c != "" && !seenCtx[c] {
				seenCtx[c] = true
				st.Context = append(st.Context, c)
			}
		}
		if rec.Route != "" {
			routes[rec.Route] = true
		}
		if rec.SourceURL != "" {
			sources[rec.SourceURL] = true
		}

		if rec.Coordinate == nil {
			continue
		}
		if chosen == nil {
			chosen = rec
			continue
		}
		if m.conflictDistance <= 0 || seenOther[*rec.Coordinate] {
			continue
		}
		if d := geo.Distance(*chosen.Coordinate, *rec.Coordinate); d > m.conflictDistance {
			seenOther[*rec.Coordinate] = true
			conflicts = append(conflicts, stop.Conflict{
				Key:            key,
				Name:           st.Name,
				Chosen:         *chosen.Coordinate,
				ChosenSource:   sourceOf(chosen),
				ChosenURL:      chosen.SourceURL,
				Other:          *rec.Coordinate,
				OtherSource:    sourceOf(rec),
				OtherURL:       rec.SourceURL,
				DistanceMeters: d,
			})
		}
	}

	if chosen != nil {
		c := *chosen.Coordinate
		st.Coordinate = &c
		st.CoordinateSource = sourceOf(chosen)
	}
	st.Routes = sortedKeys(routes)
	st.Sources = sortedKeys(sources)
	return st, conflicts
}

// sourceOf tags a positioned record, inferring a tag the adapter left empty.
func sourceOf(rec *stop.Record) stop.CoordinateSource {
	if rec.Source != "" && rec.Source != stop.SourceNone {
		return rec.Source
	}
	if rec.Kind == stop.KindPDF {
		return stop.SourceDocumentInline
	}
	return stop.SourceMapLink
}

func compareRecords(a, b stop.Record) int {
	return cmp.Or(
		cmp.Compare(rank(a), rank(b)),
		cmp.Compare(a.Name, b.Name),
		cmp.Compare(a.Network, b.Network),
		cmp.Compare(a.Route, b.Route),
		cmp.Compare(a.SourceURL, b.SourceURL),
		compareCoords(a.Coordinate, b.Coordinate),
		slices.Compare(a.Context, b.Context),
	)
}

// rank treats a record without coordinates as lowest precedence.
func rank(r stop.Record) int {
	if r.Coordinate == nil {
		return stop.SourceNone.Rank()
	}
	return sourceOf(&r).Rank()
}

func compareCoords(a, b *stop.Coordinate) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Or(cmp.Compare(a.Lat, b.Lat), cmp.Compare(a.Lon, b.Lon))
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
