package stop

import (
	"math"
	"time"
)

// CoordinateSource tags where a stop's coordinates came from.
type CoordinateSource string

const (
	SourceMapLink        CoordinateSource = "html-map-link"
	SourceDocumentInline CoordinateSource = "document-inline"
	SourcePrevious       CoordinateSource = "previous-snapshot-match"
	SourceGeocoder       CoordinateSource = "geocoder"
	SourceNone           CoordinateSource = "none"
)

// CoordinateSources lists every source tag in precedence order.
var CoordinateSources = []CoordinateSource{
	SourceMapLink, SourceDocumentInline, SourcePrevious, SourceGeocoder, SourceNone,
}

// Rank orders coordinate sources for merging. Lower wins.
func (s CoordinateSource) Rank() int {
	switch s {
	case SourceMapLink:
		return 0
	case SourceDocumentInline:
		return 1
	case SourcePrevious:
		return 2
	case SourceGeocoder:
		return 3
	default:
		return 4
	}
}

// Kind identifies which adapter produced a record.
type Kind string

const (
	KindHTML Kind = "html"
	KindPDF  Kind = "pdf"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is a finite point on the globe.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Record is one raw stop observation from an adapter, before merging.
type Record struct {
	Kind       Kind
	Name       string
	Network    string
	Route      string
	SourceURL  string
	Coordinate *Coordinate
	Source     CoordinateSource
	Context    []string
}

// Key returns the record's normalized identity.
func (r Record) Key() string {
	return Key(r.Network, r.Name)
}

// Stop is one canonical bus stop in a snapshot.
type Stop struct {
	Key              string           `json:"key"`
	Name             string           `json:"stop_name"`
	Network          string           `json:"network,omitempty"`
	Coordinate       *Coordinate      `json:"coordinate,omitempty"`
	CoordinateSource CoordinateSource `json:"coordinate_source"`
	Context          []string         `json:"context,omitempty"`
	Routes           []string         `json:"routes,omitempty"`
	Sources          []string         `json:"sources,omitempty"`
}

// Snapshot is the full stop list produced by one run.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Stops       []Stop    `json:"stops"`
}

// Conflict records two coordinate-bearing observations of the same stop
// that disagree by more than the configured distance.
type Conflict struct {
	Key            string           `json:"key"`
	Name           string           `json:"stop_name"`
	Chosen         Coordinate       `json:"chosen"`
	ChosenSource   CoordinateSource `json:"chosen_source"`
	ChosenURL      string           `json:"chosen_url,omitempty"`
	Other          Coordinate       `json:"other"`
	OtherSource    CoordinateSource `json:"other_source"`
	OtherURL       string           `json:"other_url,omitempty"`
	DistanceMeters float64          `json:"distance_m"`
}
