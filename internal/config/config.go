package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys. Names follow the scraper's historical variables.
const (
	KeyGeocodeEnabled     = "GEOCODE_ENABLED"
	KeyGeocodeDelay       = "GEOCODE_DELAY_SEC"
	KeyRequestDelay       = "REQUEST_DELAY_SEC"
	KeyUserAgent          = "CRAWLER_UA"
	KeyDataDir            = "DATA_DIR"
	KeySnapshotFile       = "SNAPSHOT_FILE"
	KeyChangesFile        = "CHANGES_FILE"
	KeyGeocodeCacheFile   = "GEOCODE_CACHE_FILE"
	KeySourcesFile        = "SOURCES_FILE"
	KeyFetchTimeout       = "FETCH_TIMEOUT_SEC"
	KeyMaxRetries         = "MAX_RETRIES"
	KeyConcurrency        = "CONCURRENCY"
	KeyGeocodeURL         = "GEOCODE_URL"
	KeyGeocodeCountry     = "GEOCODE_COUNTRY"
	KeyGeocodeQuerySuffix = "GEOCODE_QUERY_SUFFIX"
	KeyCoordTolerance     = "COORD_TOLERANCE_DEG"
	KeyConflictDistance   = "CONFLICT_DISTANCE_M"
	KeyLogLevel           = "LOG_LEVEL"
	KeyLogFormat          = "LOG_FORMAT"
)

const DefaultUserAgent = "NearestStopsBot/1.0 (contact: gavnuq321@gmail.com)"

// Config holds run configuration from environment variables, an optional
// .env file and command-line flags.
type Config struct {
	GeocodeEnabled     bool
	GeocodeDelay       time.Duration `validate:"gte=0"`
	RequestDelay       time.Duration `validate:"gte=0"`
	UserAgent          string        `validate:"required"`
	FetchTimeout       time.Duration `validate:"gt=0"`
	MaxRetries         int           `validate:"gte=0,lte=10"`
	Concurrency        int           `validate:"gte=1,lte=32"`
	GeocodeURL         string        `validate:"required,url"`
	GeocodeCountry     string
	GeocodeQuerySuffix string

	DataDir          string `validate:"required"`
	SnapshotPath     string `validate:"required"`
	ChangesPath      string `validate:"required"`
	GeocodeCachePath string `validate:"required"`
	SourcesFile      string // empty means the embedded default list

	CoordTolerance   float64 `validate:"gte=0"`
	ConflictDistance float64 `validate:"gte=0"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	Sources *Sources `validate:"required"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyGeocodeEnabled, true)
	v.SetDefault(KeyGeocodeDelay, 1.1)
	v.SetDefault(KeyRequestDelay, 0.7)
	v.SetDefault(KeyUserAgent, DefaultUserAgent)
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeySnapshotFile, "stops.json")
	v.SetDefault(KeyChangesFile, "changes.json")
	v.SetDefault(KeyGeocodeCacheFile, "geocode_cache.json")
	v.SetDefault(KeySourcesFile, "")
	v.SetDefault(KeyFetchTimeout, 25.0)
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyConcurrency, 4)
	v.SetDefault(KeyGeocodeURL, "https://nominatim.openstreetmap.org/search")
	v.SetDefault(KeyGeocodeCountry, "pl")
	v.SetDefault(KeyGeocodeQuerySuffix, ", Poland")
	v.SetDefault(KeyCoordTolerance, 1e-5)
	v.SetDefault(KeyConflictDistance, 50.0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// NewViper returns a viper instance with defaults registered and
// environment lookup enabled. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; already-set variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds and validates a Config from v, then loads the source list.
func Load(v *viper.Viper) (*Config, error) {
	dataDir := v.GetString(KeyDataDir)
	cfg := &Config{
		GeocodeEnabled:     v.GetBool(KeyGeocodeEnabled),
		GeocodeDelay:       seconds(v.GetFloat64(KeyGeocodeDelay)),
		RequestDelay:       seconds(v.GetFloat64(KeyRequestDelay)),
		UserAgent:          strings.TrimSpace(v.GetString(KeyUserAgent)),
		FetchTimeout:       seconds(v.GetFloat64(KeyFetchTimeout)),
		MaxRetries:         v.GetInt(KeyMaxRetries),
		Concurrency:        v.GetInt(KeyConcurrency),
		GeocodeURL:         v.GetString(KeyGeocodeURL),
		GeocodeCountry:     v.GetString(KeyGeocodeCountry),
		GeocodeQuerySuffix: v.GetString(KeyGeocodeQuerySuffix),
		DataDir:            dataDir,
		SnapshotPath:       inDir(dataDir, v.GetString(KeySnapshotFile)),
		ChangesPath:        inDir(dataDir, v.GetString(KeyChangesFile)),
		GeocodeCachePath:   inDir(dataDir, v.GetString(KeyGeocodeCacheFile)),
		SourcesFile:        v.GetString(KeySourcesFile),
		CoordTolerance:     v.GetFloat64(KeyCoordTolerance),
		ConflictDistance:   v.GetFloat64(KeyConflictDistance),
		LogLevel:           strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:          strings.ToLower(v.GetString(KeyLogFormat)),
	}

	sources, err := LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// inDir resolves name relative to dir unless it is already absolute.
func inDir(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
