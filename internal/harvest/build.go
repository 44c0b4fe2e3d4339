package harvest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"shuttlestops/internal/config"
	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/fetch"
	"shuttlestops/internal/geocode"
	"shuttlestops/internal/merge"
	"shuttlestops/internal/persist"
	"shuttlestops/internal/resolve"
	"shuttlestops/internal/source"
	"shuttlestops/internal/source/mappage"
	"shuttlestops/internal/source/timetable"
	"shuttlestops/internal/storage"
)

// Options adjusts a configured run.
type Options struct {
	// Forget names are removed from the geocode cache before the run.
	Forget []string
}

// App is a Runner built from configuration, plus the resources it owns.
type App struct {
	*Runner
	closers []func() error
}

// Close releases resources such as the geocode database.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New wires every component from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	app := &App{}

	store, err := openCacheStore(cfg.GeocodeCachePath, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		app.closers = append(app.closers, c.Close)
	}

	cache, err := geocode.Load(ctx, store)
	if err != nil {
		logger.Warn("geocode cache unreadable, starting empty", "path", cfg.GeocodeCachePath, "error", err)
		cache = geocode.NewCache(nil)
	}
	for _, name := range opts.Forget {
		if cache.Invalidate(name) {
			logger.Info("geocode cache entry removed", "name", name)
		} else {
			logger.Warn("name not in geocode cache", "name", name)
		}
	}
	logger.Info("geocode cache loaded", "path", cfg.GeocodeCachePath, "entries", cache.Len())

	fetcher := fetch.New(fetch.Options{
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.FetchTimeout,
		Delay:      cfg.RequestDelay,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	var geocoder resolve.Geocoder
	if cfg.GeocodeEnabled {
		geocoder = geocode.New(geocode.Options{
			Endpoint:    cfg.GeocodeURL,
			UserAgent:   cfg.UserAgent,
			Country:     cfg.GeocodeCountry,
			QuerySuffix: cfg.GeocodeQuerySuffix,
			Timeout:     cfg.FetchTimeout,
		})
	}
	resolver := resolve.New(cache, geocoder, resolve.Options{
		GeocodeEnabled: cfg.GeocodeEnabled,
		GeocodeDelay:   cfg.GeocodeDelay,
	}, logger)

	merger := merge.New(resolver, merge.Options{ConflictDistance: cfg.ConflictDistance}, logger)

	adapters := []source.Adapter{
		mappage.New(fetcher, mappage.OptionsFromSources(cfg.Sources, cfg.Concurrency), logger),
		timetable.New(fetcher, nil, timetable.Options{
			Documents: cfg.Sources.Documents,
			Networks:  cfg.Sources.Networks,
		}, logger),
	}

	app.Runner = NewRunner(Deps{
		Adapters:     adapters,
		Merger:       merger,
		Resolver:     resolver,
		Cache:        cache,
		CacheStore:   store,
		Writer:       persist.NewWriter(cfg.SnapshotPath, cfg.ChangesPath, logger),
		SnapshotPath: cfg.SnapshotPath,
		Tolerance:    cfg.CoordTolerance,
	}, logger)
	return app, nil
}

// openCacheStore picks SQLite for .db/.sqlite paths and JSON otherwise.
func openCacheStore(path string, logger *slog.Logger) (geocode.Store, error) {
	if storage.IsDatabasePath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &errs.PersistenceError{Op: "mkdir", Path: path, Err: err}
		}
		return storage.Open(path, logger)
	}
	return persist.GeocodeFile{Path: path}, nil
}
