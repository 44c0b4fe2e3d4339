package mappage

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"shuttlestops/internal/stop"
)

var (
	// #map=<zoom>/<lat>/<lon>, possibly followed by &layers=...
	mapFragmentRe = regexp.MustCompile(`(?:^|&)map=\d+/([+-]?[0-9.]+)/([+-]?[0-9.]+)(?:&|$)`)
	latLonPairRe  = regexp.MustCompile(`^\s*([+-]?\d+(?:[.]\d+)?)\s*,\s*([+-]?\d+(?:[.]\d+)?)\s*$`)
)

// ExtractCoordinate reads a stop position from a map-service link. The
// marker parameters mlat/mlon win over the viewport fragment, which wins
// over a q/query/ll "lat,lon" parameter.
func ExtractCoordinate(u *url.URL) (*stop.Coordinate, bool) {
	q := u.Query()
	if c, ok := parsePair(q.Get("mlat"), q.Get("mlon")); ok {
		return c, true
	}
	if m := mapFragmentRe.FindStringSubmatch(u.Fragment); m != nil {
		if c, ok := parsePair(m[1], m[2]); ok {
			return c, true
		}
	}
	for _, key := range []string{"q", "query", "ll"} {
		if m := latLonPairRe.FindStringSubmatch(q.Get(key)); m != nil {
			if c, ok := parsePair(m[1], m[2]); ok {
				return c, true
			}
		}
	}
	return nil, false
}

func parsePair(lat, lon string) (*stop.Coordinate, bool) {
	if lat == "" || lon == "" {
		return nil, false
	}
	la, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(lat), ",", "."), 64)
	if err != nil {
		return nil, false
	}
	lo, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(lon), ",", "."), 64)
	if err != nil {
		return nil, false
	}
	c := &stop.Coordinate{Lat: la, Lon: lo}
	if !c.Valid() {
		return nil, false
	}
	return c, true
}
