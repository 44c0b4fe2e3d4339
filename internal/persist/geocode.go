package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/geocode"
)

// GeocodeFile stores the geocode cache as a JSON object keyed by name.
// Not-found entries are written as {"lat": null, "lon": null}.
type GeocodeFile struct {
	Path string
}

// Load reads the cache file. A missing file is an empty cache.
func (f GeocodeFile) Load(context.Context) (map[string]geocode.Entry, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]geocode.Entry{}, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "read", Path: f.Path, Err: err}
	}
	entries := make(map[string]geocode.Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &errs.ParseError{Source: "geocode-cache", URL: f.Path, Err: err}
	}
	return entries, nil
}

// Save atomically rewrites the cache file. encoding/json sorts map keys,
// so the output is stable between runs.
func (f GeocodeFile) Save(_ context.Context, entries map[string]geocode.Entry) error {
	return WriteJSON(f.Path, entries)
}
