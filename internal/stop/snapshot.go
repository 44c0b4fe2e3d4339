package stop

import "sort"

// Len returns the number of stops, tolerating a nil snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Stops)
}

// ByKey maps each stop key to its stop.
func (s *Snapshot) ByKey() map[string]Stop {
	out := make(map[string]Stop, s.Len())
	if s == nil {
		return out
	}
	for _, st := range s.Stops {
		out[st.Key] = st
	}
	return out
}

// Sort orders stops by key.
func (s *Snapshot) Sort() {
	sort.SliceStable(s.Stops, func(i, j int) bool { return s.Stops[i].Key < s.Stops[j].Key })
}

// Index is a read-only lookup over a snapshot's positioned stops.
type Index struct {
	byKey  map[string]Stop
	byName map[string][]Stop
}

// Index builds a lookup over the stops that carry coordinates.
// A nil snapshot yields an empty index.
func (s *Snapshot) Index() *Index {
	idx := &Index{
		byKey:  make(map[string]Stop),
		byName: make(map[string][]Stop),
	}
	if s == nil {
		return idx
	}
	for _, st := range s.Stops {
		if st.Coordinate == nil {
			continue
		}
		idx.byKey[st.Key] = st
		name := NormalizeName(st.Name)
		idx.byName[name] = append(idx.byName[name], st)
	}
	return idx
}

// Lookup finds a previously positioned stop. An exact key match in the same
// network wins; otherwise the first stop with the same normalized name in
// snapshot order is returned.
func (idx *Index) Lookup(network, name string) (Stop, bool) {
	if idx == nil {
		return Stop{}, false
	}
	if st, ok := idx.byKey[Key(network, name)]; ok {
		return st, true
	}
	if candidates := idx.byName[NormalizeName(name)]; len(candidates) > 0 {
		return candidates[0], true
	}
	return Stop{}, false
}

// Len returns the number of positioned stops in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}
