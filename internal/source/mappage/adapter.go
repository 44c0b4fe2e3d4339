// Package mappage harvests stops from network websites whose route pages
// link every stop to a map service.
package mappage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"shuttlestops/internal/config"
	"shuttlestops/internal/source"
	"shuttlestops/internal/stop"
)

// Name identifies the adapter in logs and summaries.
const Name = "html"

// Options configures the adapter.
type Options struct {
	Networks     []config.Network
	MapHosts     []string
	SkipSegments []string
	Crawl        config.CrawlLimits
	Concurrency  int
}

// OptionsFromSources builds Options from the configured source list.
func OptionsFromSources(s *config.Sources, concurrency int) Options {
	return Options{
		Networks:     s.Networks,
		MapHosts:     s.MapHosts,
		SkipSegments: s.SkipSegments,
		Crawl:        s.Crawl,
		Concurrency:  concurrency,
	}
}

// Adapter is the HTML source adapter.
type Adapter struct {
	fetcher source.Fetcher
	opts    Options
	logger  *slog.Logger
}

// New creates the HTML adapter.
func New(fetcher source.Fetcher, opts Options, logger *slog.Logger) *Adapter {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.SkipSegments == nil {
		opts.SkipSegments = source.DefaultSkipSegments
	}
	if opts.Crawl.MaxPagesPerHost < 1 {
		opts.Crawl.MaxPagesPerHost = 300
	}
	return &Adapter{fetcher: fetcher, opts: opts, logger: logger}
}

func (a *Adapter) Name() string { return Name }

type networkResult struct {
	records  []stop.Record
	warnings []error
	pages    int
}

// Collect harvests every network. Networks run concurrently up to the
// configured limit; records are returned in declared network order.
func (a *Adapter) Collect(ctx context.Context) (*source.Result, error) {
	results := make([]networkResult, len(a.opts.Networks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, n := range a.opts.Networks {
		g.Go(func() error {
			results[i] = a.collectNetwork(gctx, n)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &source.Result{Adapter: Name}
	for _, r := range results {
		res.Records = append(res.Records, r.records...)
		res.Warnings = append(res.Warnings, r.warnings...)
		res.Pages += r.pages
	}
	return res, nil
}

func (a *Adapter) collectNetwork(ctx context.Context, n config.Network) networkResult {
	var out networkResult
	log := a.logger.With("network", n.ID)

	pages, warnings := a.discover(ctx, n)
	out.warnings = append(out.warnings, warnings...)
	log.Debug("route pages discovered", "mode", n.Discovery, "pages", len(pages))

	for _, pageURL := range pages {
		if ctx.Err() != nil {
			return out
		}
		body, err := a.fetcher.Get(ctx, n.ID, pageURL)
		if err != nil {
			log.Warn("route page unavailable", "url", pageURL, "error", err)
			out.warnings = append(out.warnings, err)
			continue
		}
		page, err := ParsePage(body, pageURL, n.ID, a.opts.MapHosts)
		if err != nil {
			log.Warn("route page unparseable", "url", pageURL, "error", err)
			out.warnings = append(out.warnings, err)
			continue
		}
		for _, w := range page.Warnings {
			log.Warn("stop skipped", "url", pageURL, "error", w)
		}
		out.warnings = append(out.warnings, page.Warnings...)
		if len(page.Records) == 0 {
			log.Debug("no map-linked stops", "url", pageURL)
			continue
		}
		log.Info("route parsed", "route", page.Route, "stops", len(page.Records))
		out.records = append(out.records, page.Records...)
		out.pages++
	}
	return out
}

// discover returns candidate route page URLs for n, in a stable order.
func (a *Adapter) discover(ctx context.Context, n config.Network) ([]string, []error) {
	switch n.Discovery {
	case config.DiscoveryListing:
		return a.discoverListing(ctx, n)
	case config.DiscoveryLinks:
		return a.discoverLinks(ctx, n)
	case config.DiscoveryCrawl:
		return a.crawl(ctx, n)
	default:
		return nil, []error{fmt.Errorf("network %s: unknown discovery mode %q", n.ID, n.Discovery)}
	}
}

func (a *Adapter) fetchDoc(ctx context.Context, network, rawURL string) (*goquery.Document, *url.URL, []byte, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("network %s: bad url %q: %w", network, rawURL, err)
	}
	body, err := a.fetcher.Get(ctx, network, rawURL)
	if err != nil {
		return nil, nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("network %s: parse %s: %w", network, rawURL, err)
	}
	return doc, base, body, nil
}

// discoverListing takes the links inside the listing's content area.
func (a *Adapter) discoverListing(ctx context.Context, n config.Network) ([]string, []error) {
	doc, base, _, err := a.fetchDoc(ctx, n.ID, n.BaseURL)
	if err != nil {
		a.logger.Warn("listing unavailable", "network", n.ID, "url", n.BaseURL, "error", err)
		return nil, []error{err}
	}

	scope := doc.Find(".entry-content").First()
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	self := source.Canonical(base)

	var pages []string
	for _, l := range source.Links(scope, base) {
		if !source.SameHost(l.URL, base.Hostname()) || source.HasSkipSegment(l.URL, a.opts.SkipSegments) {
			continue
		}
		if source.Canonical(l.URL) == self || source.IsDocument(l.URL, ".pdf", ".jpg", ".png") {
			continue
		}
		pages = append(pages, l.URL.String())
	}
	return pages, nil
}

// discoverLinks keeps the root's same-host links whose pages mention a map.
func (a *Adapter) discoverLinks(ctx context.Context, n config.Network) ([]string, []error) {
	doc, base, body, err := a.fetchDoc(ctx, n.ID, n.BaseURL)
	if err != nil {
		a.logger.Warn("root unavailable", "network", n.ID, "url", n.BaseURL, "error", err)
		return nil, []error{err}
	}

	var pages []string
	var warnings []error
	if MentionsMap(body, a.opts.MapHosts) {
		pages = append(pages, base.String())
	}
	self := source.Canonical(base)
	for _, l := range source.Links(doc.Selection, base) {
		if ctx.Err() != nil {
			break
		}
		if !source.SameHost(l.URL, base.Hostname()) || source.HasSkipSegment(l.URL, a.opts.SkipSegments) {
			continue
		}
		if source.Canonical(l.URL) == self || source.IsDocument(l.URL, ".pdf", ".jpg", ".png") {
			continue
		}
		b, err := a.fetcher.Get(ctx, n.ID, l.URL.String())
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		if MentionsMap(b, a.opts.MapHosts) {
			pages = append(pages, l.URL.String())
		}
	}
	return pages, warnings
}

type queued struct {
	url   *url.URL
	depth int
}

// crawl walks breadth-first from the seeds, keeping pages that mention a
// map. Depth and pages per host are bounded.
func (a *Adapter) crawl(ctx context.Context, n config.Network) ([]string, []error) {
	var (
		queue    []queued
		pages    []string
		warnings []error
		seen     = make(map[string]bool)
		perHost  = make(map[string]int)
	)
	for _, s := range n.Seeds {
		u, err := url.Parse(s)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("network %s: bad seed %q: %w", n.ID, s, err))
			continue
		}
		queue = append(queue, queued{url: u})
	}

	for len(queue) > 0 && ctx.Err() == nil {
		next := queue[0]
		queue = queue[1:]

		key := source.Canonical(next.url)
		if seen[key] {
			continue
		}
		host := next.url.Hostname()
		if perHost[host] >= a.opts.Crawl.MaxPagesPerHost {
			continue
		}
		seen[key] = true
		perHost[host]++

		doc, base, body, err := a.fetchDoc(ctx, n.ID, next.url.String())
		if err != nil {
			a.logger.Debug("crawl fetch failed", "network", n.ID, "url", next.url, "error", err)
			warnings = append(warnings, err)
			continue
		}
		if MentionsMap(body, a.opts.MapHosts) {
			pages = append(pages, next.url.String())
		}
		if next.depth >= a.opts.Crawl.MaxDepth {
			continue
		}
		for _, l := range source.Links(doc.Selection, base) {
			if !source.SameHost(l.URL, host) || source.HasSkipSegment(l.URL, a.opts.SkipSegments) {
				continue
			}
			if source.IsDocument(l.URL, ".pdf", ".jpg", ".png") || seen[source.Canonical(l.URL)] {
				continue
			}
			queue = append(queue, queued{url: l.URL, depth: next.depth + 1})
		}
	}
	return pages, warnings
}
