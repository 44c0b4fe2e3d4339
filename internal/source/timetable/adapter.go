// Package timetable harvests stop names and departure times from PDF
// timetables published on employee-transport pages.
package timetable

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"shuttlestops/internal/config"
	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/source"
)

// Name identifies the adapter in logs and summaries.
const Name = "pdf"

// Options configures the adapter.
type Options struct {
	Documents config.Documents
	Networks  []config.Network
}

// Adapter is the PDF source adapter.
type Adapter struct {
	fetcher   source.Fetcher
	extractor TextExtractor
	opts      Options
	logger    *slog.Logger
}

// New creates the PDF adapter. A nil extractor reads PDFs directly.
func New(fetcher source.Fetcher, extractor TextExtractor, opts Options, logger *slog.Logger) *Adapter {
	if extractor == nil {
		extractor = PDFExtractor{}
	}
	if opts.Documents.SkipWords == nil {
		opts.Documents.SkipWords = DefaultSkipWords
	}
	return &Adapter{fetcher: fetcher, extractor: extractor, opts: opts, logger: logger}
}

func (a *Adapter) Name() string { return Name }

// Collect downloads and parses every configured document. A failing
// document only costs its own records. Collect fails as a whole only when
// no document could even be listed.
func (a *Adapter) Collect(ctx context.Context) (*source.Result, error) {
	res := &source.Result{Adapter: Name}

	docs, listed := a.documents(ctx, res)
	if !listed {
		return res, fmt.Errorf("no document index reachable: %w", errs.ErrSourceFetch)
	}
	if len(docs) == 0 {
		a.logger.Info("no timetable documents found")
		return res, nil
	}

	for _, docURL := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := a.fetcher.Get(ctx, Name, docURL)
		if err != nil {
			a.logger.Warn("document unavailable", "url", docURL, "error", err)
			res.Warn(err)
			continue
		}
		pages, err := a.extractor.Extract(body)
		if err != nil {
			perr := &errs.ParseError{Source: Name, URL: docURL, Err: err}
			a.logger.Warn("document unreadable", "url", docURL, "error", err)
			res.Warn(perr)
			continue
		}

		doc := ParseDocument(pages, docURL, a.opts.Networks, a.opts.Documents.Network, a.opts.Documents.SkipWords)
		if len(doc.Lines) == 0 {
			a.logger.Warn("no stops parsed", "url", docURL)
			res.Warn(&errs.ParseError{Source: Name, URL: docURL, Err: fmt.Errorf("no stop lines")})
			continue
		}
		a.logger.Info("timetable parsed", "url", docURL, "route", doc.Route, "network", doc.Network, "stops", len(doc.Lines))
		res.Records = append(res.Records, doc.Records(docURL)...)
		res.Pages++
	}
	return res, nil
}

// documents lists document URLs from the index pages followed by the
// explicit ones, deduplicated in order. listed is false when index pages
// are configured, none could be fetched and there are no explicit URLs.
func (a *Adapter) documents(ctx context.Context, res *source.Result) (docs []string, listed bool) {
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			docs = append(docs, u)
		}
	}

	reached := 0
	for _, index := range a.opts.Documents.IndexURLs {
		links, err := a.indexLinks(ctx, index)
		if err != nil {
			a.logger.Warn("document index unavailable", "url", index, "error", err)
			res.Warn(err)
			continue
		}
		reached++
		if len(links) == 0 {
			a.logger.Warn("no document links on index", "url", index)
		}
		for _, l := range links {
			add(l)
		}
	}
	for _, u := range a.opts.Documents.URLs {
		add(u)
	}

	listed = reached > 0 || len(a.opts.Documents.IndexURLs) == 0 || len(a.opts.Documents.URLs) > 0
	return docs, listed
}

func (a *Adapter) indexLinks(ctx context.Context, index string) ([]string, error) {
	base, err := url.Parse(index)
	if err != nil {
		return nil, &errs.ParseError{Source: Name, URL: index, Err: err}
	}
	body, err := a.fetcher.Get(ctx, Name, index)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &errs.ParseError{Source: Name, URL: index, Err: err}
	}

	var out []string
	for _, l := range source.Links(doc.Selection, base) {
		if source.IsDocument(l.URL, ".pdf") {
			out = append(out, l.URL.String())
		}
	}
	return out, nil
}
