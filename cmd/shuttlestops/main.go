// Command shuttlestops harvests shuttle stop names and coordinates from
// operator websites and PDF timetables, and writes a stop snapshot plus a
// change report against the previous run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"shuttlestops/internal/config"
	"shuttlestops/internal/harvest"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shuttlestops:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var (
		envFile      string
		noGeocode    bool
		forget       []string
		printSummary bool
	)

	cmd := &cobra.Command{
		Use:           "shuttlestops",
		Short:         "Harvest shuttle bus stops into a JSON snapshot",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			if noGeocode {
				v.Set(config.KeyGeocodeEnabled, false)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			return run(cmd.Context(), cfg, harvest.Options{Forget: forget}, printSummary, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	f.String("data-dir", "", "output directory for stops.json, changes.json and the geocode cache")
	f.String("sources", "", "YAML source list (default: built-in list)")
	f.BoolVar(&noGeocode, "no-geocode", false, "never call the geocoder or consult the geocode cache")
	f.StringSliceVar(&forget, "forget", nil, "drop these stop names from the geocode cache before running")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.String("log-format", "", "log format: text or json")
	f.BoolVar(&printSummary, "summary", false, "print the run summary as JSON on stdout")

	bind := map[string]string{
		"data-dir":   config.KeyDataDir,
		"sources":    config.KeySourcesFile,
		"log-level":  config.KeyLogLevel,
		"log-format": config.KeyLogFormat,
	}
	for name, key := range bind {
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts harvest.Options, printSummary bool, logger *slog.Logger) error {
	logger.Info("starting harvest",
		"version", version,
		"data_dir", cfg.DataDir,
		"networks", len(cfg.Sources.Networks),
		"geocode", cfg.GeocodeEnabled,
	)

	app, err := harvest.New(ctx, cfg, opts, logger)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	sum, err := app.Run(ctx)
	if err != nil {
		logger.Error("harvest failed", "error", err)
		return err
	}

	if printSummary {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
