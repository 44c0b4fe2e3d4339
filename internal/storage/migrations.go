package storage

import "fmt"

// migrate creates the cache schema if it doesn't exist.
func (db *DB) migrate() error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	// One row per normalized stop name. NULL lat/lon marks a definitive
	// not-found answer from the geocoder.
	`CREATE TABLE IF NOT EXISTS geocode_cache (
		name        TEXT PRIMARY KEY,
		lat         REAL,
		lon         REAL,
		resolved_at TEXT
	)`,

	// Run metadata (last_saved_at, entry counts)
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
