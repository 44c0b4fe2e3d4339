// Package source defines the adapter contract shared by the HTML and PDF
// harvesters, plus the link and text helpers both of them use.
package source

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"shuttlestops/internal/stop"
)

// Fetcher retrieves one page or document. source labels errors.
type Fetcher interface {
	Get(ctx context.Context, source, url string) ([]byte, error)
}

// Adapter collects stop records from one kind of source.
type Adapter interface {
	Name() string
	Collect(ctx context.Context) (*Result, error)
}

// Result is what one adapter produced. Warnings are recoverable problems
// (a page that failed to load, a malformed anchor) that cost records but
// not the run.
type Result struct {
	Adapter  string
	Records  []stop.Record
	Warnings []error
	Pages    int
	// Err is set when the adapter as a whole failed.
	Err error
}

// Warn records a recoverable problem.
func (r *Result) Warn(err error) {
	if err != nil {
		r.Warnings = append(r.Warnings, err)
	}
}

// CollectAll runs every adapter concurrently and returns their results in
// the order given. A failing adapter yields a Result with Err set; it does
// not stop the others.
func CollectAll(ctx context.Context, logger *slog.Logger, adapters ...Adapter) []*Result {
	results := make([]*Result, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			res, err := a.Collect(ctx)
			if res == nil {
				res = &Result{}
			}
			res.Adapter = a.Name()
			if err != nil {
				res.Err = err
				logger.Warn("source failed", "source", a.Name(), "error", err)
			} else {
				logger.Info("source collected", "source", a.Name(),
					"records", len(res.Records), "pages", res.Pages, "warnings", len(res.Warnings))
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}
