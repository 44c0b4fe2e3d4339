// Package harvest runs one collection pass: adapters, merge, diff and
// persistence, in that order.
package harvest

import (
	"context"
	"log/slog"
	"time"

	"shuttlestops/internal/diff"
	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/geocode"
	"shuttlestops/internal/merge"
	"shuttlestops/internal/persist"
	"shuttlestops/internal/resolve"
	"shuttlestops/internal/source"
	"shuttlestops/internal/stop"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Adapters     []source.Adapter
	Merger       *merge.Merger
	Resolver     *resolve.Resolver // optional, for the summary
	Cache        *geocode.Cache    // optional
	CacheStore   geocode.Store     // required when Cache is set
	Writer       *persist.Writer
	SnapshotPath string
	Tolerance    float64
	Now          func() time.Time
}

// Runner executes harvest runs.
type Runner struct {
	deps   Deps
	logger *slog.Logger
}

// NewRunner creates a Runner from explicit dependencies.
func NewRunner(deps Deps, logger *slog.Logger) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tolerance <= 0 {
		deps.Tolerance = diff.DefaultTolerance
	}
	return &Runner{deps: deps, logger: logger}
}

// SourceSummary reports what one adapter contributed.
type SourceSummary struct {
	Name     string `json:"name"`
	Records  int    `json:"records"`
	Pages    int    `json:"pages"`
	Warnings int    `json:"warnings"`
	Failed   bool   `json:"failed"`
}

// Summary describes a finished run.
type Summary struct {
	RunID        string          `json:"run_id"`
	Sources      []SourceSummary `json:"sources"`
	Merge        merge.Stats     `json:"merge"`
	Resolver     resolve.Stats   `json:"resolver"`
	Diff         diff.Summary    `json:"diff"`
	KeptPrevious bool            `json:"kept_previous"`
}

// Run performs one harvest. Source problems degrade the output but do not
// fail the run. The returned error is errors.ErrNoData when nothing was
// collected and there is no previous snapshot, a *errors.PersistenceError
// when output could not be written, or the context error.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	prev := persist.LoadPrevious(r.deps.SnapshotPath, r.logger)

	results := source.CollectAll(ctx, r.logger, r.deps.Adapters...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := &Summary{}
	var batches [][]stop.Record
	total := 0
	for _, res := range results {
		sum.Sources = append(sum.Sources, SourceSummary{
			Name:     res.Adapter,
			Records:  len(res.Records),
			Pages:    res.Pages,
			Warnings: len(res.Warnings),
			Failed:   res.Err != nil,
		})
		if len(res.Records) == 0 {
			r.logger.Warn("source produced no records", "source", res.Adapter)
		}
		batches = append(batches, res.Records)
		total += len(res.Records)
	}

	if total == 0 {
		return r.keepPrevious(ctx, prev, sum)
	}

	merged, err := r.deps.Merger.Merge(ctx, prev, batches...)
	if err != nil {
		return nil, err
	}
	sum.Merge = merged.Stats

	report := diff.Compare(prev, merged.Snapshot,
		diff.WithTolerance(r.deps.Tolerance),
		diff.WithConflicts(merged.Conflicts),
		diff.WithClock(r.deps.Now),
	)
	sum.RunID = report.RunID
	sum.Diff = report.Summary

	if err := r.deps.Writer.Write(merged.Snapshot, report); err != nil {
		return nil, err
	}
	if err := r.saveCache(ctx); err != nil {
		return nil, err
	}
	if r.deps.Resolver != nil {
		sum.Resolver = r.deps.Resolver.Stats()
	}
	r.logSummary(sum)
	return sum, nil
}

// keepPrevious handles a run in which no source produced anything.
func (r *Runner) keepPrevious(ctx context.Context, prev *stop.Snapshot, sum *Summary) (*Summary, error) {
	if prev == nil {
		return nil, errs.ErrNoData
	}
	r.logger.Warn("no stops collected, keeping previous snapshot", "stops", prev.Len())

	report := diff.NewReport(diff.WithClock(r.deps.Now))
	report.Summary.Previous = prev.Len()
	report.Summary.Current = prev.Len()
	report.Summary.Unchanged = prev.Len()
	if err := r.deps.Writer.WriteReport(report); err != nil {
		return nil, err
	}
	if err := r.saveCache(ctx); err != nil {
		return nil, err
	}

	sum.RunID = report.RunID
	sum.Diff = report.Summary
	sum.KeptPrevious = true
	r.logSummary(sum)
	return sum, nil
}

func (r *Runner) saveCache(ctx context.Context) error {
	c := r.deps.Cache
	if c == nil || r.deps.CacheStore == nil || !c.Dirty() {
		return nil
	}
	if err := c.Save(ctx, r.deps.CacheStore); err != nil {
		var pe *errs.PersistenceError
		if !errs.As(err, &pe) {
			err = &errs.PersistenceError{Op: "save", Path: "geocode cache", Err: err}
		}
		return err
	}
	r.logger.Info("geocode cache saved", "entries", c.Len())
	return nil
}

func (r *Runner) logSummary(s *Summary) {
	for _, src := range s.Sources {
		r.logger.Info("source summary", "source", src.Name, "records", src.Records,
			"pages", src.Pages, "warnings", src.Warnings, "failed", src.Failed)
	}
	for _, cs := range stop.CoordinateSources {
		if n := s.Merge.BySource[cs]; n > 0 {
			r.logger.Info("coordinates", "source", cs, "stops", n)
		}
	}
	r.logger.Info("run complete",
		"run_id", s.RunID,
		"stops", s.Diff.Current,
		"added", s.Diff.Added,
		"removed", s.Diff.Removed,
		"modified", s.Diff.Modified,
		"unchanged", s.Diff.Unchanged,
		"conflicts", s.Diff.Conflicts,
		"scoped", s.Merge.Scoped,
		"geocoder_calls", s.Resolver.GeocoderCalls,
		"unresolved", s.Resolver.Unresolved,
		"kept_previous", s.KeptPrevious,
	)
}
