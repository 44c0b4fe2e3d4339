// Package errors defines the harvest error taxonomy. Source, parse and
// geocode errors are recovered where they occur; persistence errors and
// ErrNoData abort the run.
package errors

import (
	"errors"
	"fmt"
)

// Re-exported so callers need a single errors import.
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

var (
	// ErrSourceFetch indicates a network or HTTP failure reaching a source.
	ErrSourceFetch = errors.New("source fetch failed")

	// ErrParse indicates content that does not have the expected shape.
	ErrParse = errors.New("parse failed")

	// ErrGeocode indicates a failed or timed out geocoding call.
	ErrGeocode = errors.New("geocode failed")

	// ErrPersistence indicates output could not be written.
	ErrPersistence = errors.New("persistence failed")

	// ErrNoData indicates no source produced records and there is no
	// previous snapshot to fall back to.
	ErrNoData = errors.New("no stops collected and no previous snapshot")
)

// SourceFetchError describes a failed fetch of one page or document.
type SourceFetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *SourceFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): status %d", e.URL, e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

func (e *SourceFetchError) Is(target error) bool { return target == ErrSourceFetch }

// Temporary reports whether retrying could help.
func (e *SourceFetchError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ParseError describes content of one page, document or record that could
// not be interpreted.
type ParseError struct {
	Source string
	URL    string
	Record string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("parse %s (%s) record %q: %v", e.URL, e.Source, e.Record, e.Err)
	}
	return fmt.Sprintf("parse %s (%s): %v", e.URL, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// GeocodeError describes a failed lookup for one stop name.
type GeocodeError struct {
	Name string
	Err  error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocode %q: %v", e.Name, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

func (e *GeocodeError) Is(target error) bool { return target == ErrGeocode }

// PersistenceError describes a failed write of an output file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
