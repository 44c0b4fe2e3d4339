package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/stop"
)

func TestSearch_Found(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"lat":"51.1079","lon":"17.0385","display_name":"Dworzec Główny, Wrocław"}]`))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, UserAgent: "TestBot/1.0", Country: "pl", QuerySuffix: ", Poland"})
	res, err := c.Search(context.Background(), "Dworzec Główny")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 51.1079, res.Lat, 1e-9)
	assert.InDelta(t, 17.0385, res.Lon, 1e-9)
	assert.Equal(t, &stop.Coordinate{Lat: res.Lat, Lon: res.Lon}, res.Coordinate())

	q := got.URL.Query()
	assert.Equal(t, "Dworzec Główny, Poland", q.Get("q"))
	assert.Equal(t, "pl", q.Get("countrycodes"))
	assert.Equal(t, "jsonv2", q.Get("format"))
	assert.Equal(t, "1", q.Get("limit"))
	assert.Equal(t, "TestBot/1.0", got.Header.Get("User-Agent"))
}

func TestSearch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	res, err := New(Options{Endpoint: srv.URL}).Search(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{`)) }},
		{"bad lat", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`[{"lat":"x","lon":"1"}]`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(Options{Endpoint: srv.URL}).Search(context.Background(), "Rynek")
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrGeocode))
			var ge *errs.GeocodeError
			require.True(t, errs.As(err, &ge))
			assert.Equal(t, "Rynek", ge.Name)
		})
	}
}

func TestCache_NormalizesNames(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(map[string]Entry{
		"  Pl. Grunwaldzki ": FoundEntry(stop.Coordinate{Lat: 51.11, Lon: 17.06}, at),
	})

	e, ok := c.Get("pl grunwaldzki")
	require.True(t, ok)
	assert.True(t, e.Found())
	assert.Equal(t, &stop.Coordinate{Lat: 51.11, Lon: 17.06}, e.Coordinate())
	assert.False(t, c.Dirty(), "seeding does not dirty the cache")
}

func TestCache_NotFoundMarker(t *testing.T) {
	c := NewCache(nil)
	c.Put("Pole", NotFoundEntry(time.Now()))

	e, ok := c.Get("POLE")
	require.True(t, ok)
	assert.False(t, e.Found())
	assert.Nil(t, e.Coordinate())
	assert.True(t, c.Dirty())
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(map[string]Entry{"rynek": NotFoundEntry(time.Now())})

	assert.True(t, c.Invalidate("Rynek"))
	assert.False(t, c.Invalidate("Rynek"))
	_, ok := c.Get("rynek")
	assert.False(t, ok)
	assert.True(t, c.Dirty())
	assert.Equal(t, 0, c.Len())
}

func TestCache_NormalizesKeysAndCopiesEntries(t *testing.T) {
	c := NewCache(nil)
	c.Put("Zajezdnia", NotFoundEntry(time.Now()))
	c.Put("Apteka", NotFoundEntry(time.Now()))
	c.Put("", NotFoundEntry(time.Now()))

	entries := c.Entries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "apteka")
	assert.Contains(t, entries, "zajezdnia")

	delete(entries, "apteka")
	assert.Equal(t, 2, c.Len())
}

type memStore struct {
	entries map[string]Entry
	saved   map[string]Entry
}

func (m *memStore) Load(context.Context) (map[string]Entry, error) { return m.entries, nil }

func (m *memStore) Save(_ context.Context, e map[string]Entry) error {
	m.saved = e
	return nil
}

func TestLoadSave_RoundTripThroughStore(t *testing.T) {
	s := &memStore{entries: map[string]Entry{"Rynek": NotFoundEntry(time.Now())}}
	c, err := Load(context.Background(), s)
	require.NoError(t, err)

	c.Put("Most", FoundEntry(stop.Coordinate{Lat: 1, Lon: 2}, time.Now()))
	require.NoError(t, c.Save(context.Background(), s))
	assert.Len(t, s.saved, 2)
	assert.Contains(t, s.saved, "rynek")
	assert.Contains(t, s.saved, "most")
}
