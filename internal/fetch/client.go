package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	errs "shuttlestops/internal/errors"
)

// DefaultMaxBodyBytes caps a single response; timetable PDFs are well below it.
const DefaultMaxBodyBytes = 32 << 20

// Options configures a Client.
type Options struct {
	UserAgent      string
	Timeout        time.Duration // per attempt
	Delay          time.Duration // minimum spacing between requests
	MaxRetries     int
	InitialBackoff time.Duration // first retry wait, doubled per attempt
	MaxBodyBytes   int64         // larger responses fail; defaults to DefaultMaxBodyBytes
}

// Client fetches source pages and documents. All requests made through one
// Client share a rate limiter, and successful bodies are memoized for the
// lifetime of the Client so pages shared between networks are fetched once.
type Client struct {
	httpClient     *http.Client
	userAgent      string
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	maxBodyBytes   int64
	pages          *gocache.Cache
	logger         *slog.Logger
}

// New creates a fetch Client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 800 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		httpClient:     &http.Client{Timeout: opts.Timeout},
		userAgent:      opts.UserAgent,
		limiter:        NewLimiter(opts.Delay),
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxBodyBytes:   opts.MaxBodyBytes,
		pages:          gocache.New(gocache.NoExpiration, 0),
		logger:         logger,
	}
}

// NewLimiter returns a limiter allowing one event per delay.
// A non-positive delay disables limiting.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Get returns the body of rawURL. source labels errors for diagnosis.
// Network errors, 429 and 5xx responses are retried with exponential
// backoff; other statuses, malformed URLs and oversized bodies fail
// immediately. Errors are *errors.SourceFetchError.
func (c *Client) Get(ctx context.Context, source, rawURL string) ([]byte, error) {
	if cached, ok := c.pages.Get(rawURL); ok {
		return cached.([]byte), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			body, err := c.do(ctx, source, rawURL)
			if err == nil {
				return body, nil
			}
			var perm *backoff.PermanentError
			if errs.As(err, &perm) {
				return nil, err
			}
			var fe *errs.SourceFetchError
			if ctx.Err() != nil || (errs.As(err, &fe) && !fe.Temporary()) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		},
		policy,
		func(err error, wait time.Duration) {
			c.logger.Debug("retrying fetch", "source", source, "url", rawURL, "wait", wait, "error", err)
		},
	)
	if err != nil {
		var fe *errs.SourceFetchError
		if !errs.As(err, &fe) {
			err = &errs.SourceFetchError{Source: source, URL: rawURL, Err: err}
		}
		return nil, err
	}

	c.pages.Set(rawURL, body, gocache.NoExpiration)
	return body, nil
}

func (c *Client) do(ctx context.Context, source, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &errs.SourceFetchError{Source: source, URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(&errs.SourceFetchError{Source: source, URL: rawURL, Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errs.SourceFetchError{Source: source, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.SourceFetchError{Source: source, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &errs.SourceFetchError{Source: source, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, backoff.Permanent(&errs.SourceFetchError{
			Source: source, URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", c.maxBodyBytes),
		})
	}
	c.logger.Debug("fetched", "source", source, "url", rawURL, "bytes", len(body))
	return body, nil
}
