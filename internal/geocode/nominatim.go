package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/stop"
)

// DefaultEndpoint is the public Nominatim search API.
const DefaultEndpoint = "https://nominatim.openstreetmap.org/search"

// Result holds a geocoding result.
type Result struct {
	Lat         float64
	Lon         float64
	DisplayName string
}

// Coordinate returns the result position.
func (r *Result) Coordinate() *stop.Coordinate {
	return &stop.Coordinate{Lat: r.Lat, Lon: r.Lon}
}

// Options configures a Nominatim client.
type Options struct {
	Endpoint    string
	UserAgent   string // required by Nominatim's usage policy
	Country     string // countrycodes filter, e.g. "pl"
	QuerySuffix string // appended to every query, e.g. ", Poland"
	Timeout     time.Duration
}

// Client is a Nominatim geocoding client. It does not rate limit; callers
// share one limiter per service.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	userAgent   string
	country     string
	querySuffix string
}

// New creates a Nominatim geocoding client.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		endpoint:    opts.Endpoint,
		userAgent:   opts.UserAgent,
		country:     opts.Country,
		querySuffix: opts.QuerySuffix,
	}
}

// Search geocodes a stop name. Returns the top result, or nil if nothing
// was found. Failures are *errors.GeocodeError.
func (c *Client) Search(ctx context.Context, name string) (*Result, error) {
	params := url.Values{
		"q":              {name + c.querySuffix},
		"format":         {"jsonv2"},
		"limit":          {"1"},
		"addressdetails": {"0"},
	}
	if c.country != "" {
		params.Set("countrycodes", c.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &errs.GeocodeError{Name: name, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errs.GeocodeError{Name: name, Err: fmt.Errorf("nominatim request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.GeocodeError{Name: name, Err: fmt.Errorf("nominatim status %d", resp.StatusCode)}
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &errs.GeocodeError{Name: name, Err: fmt.Errorf("nominatim decode: %w", err)}
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, &errs.GeocodeError{Name: name, Err: fmt.Errorf("parse lat: %w", err)}
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, &errs.GeocodeError{Name: name, Err: fmt.Errorf("parse lon: %w", err)}
	}

	return &Result{
		Lat:         lat,
		Lon:         lon,
		DisplayName: results[0].DisplayName,
	}, nil
}
