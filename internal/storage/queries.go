package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"shuttlestops/internal/geocode"
)

// Metadata keys written on every save.
const (
	MetaSavedAt    = "geocode_saved_at"
	MetaEntryCount = "geocode_entries"
)

// GetMetadata retrieves a value from the metadata table.
func (db *DB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setMetadata stores a key-value pair through a database or transaction.
func setMetadata(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`,
		key, value)
	return err
}

// Load returns every cached geocode entry keyed by normalized name.
func (db *DB) Load(ctx context.Context) (map[string]geocode.Entry, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, lat, lon, resolved_at FROM geocode_cache`)
	if err != nil {
		return nil, fmt.Errorf("query geocode cache: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]geocode.Entry)
	for rows.Next() {
		var (
			name       string
			lat, lon   sql.NullFloat64
			resolvedAt sql.NullString
		)
		if err := rows.Scan(&name, &lat, &lon, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan geocode row: %w", err)
		}
		var e geocode.Entry
		if lat.Valid && lon.Valid {
			e.Lat, e.Lon = &lat.Float64, &lon.Float64
		}
		if resolvedAt.Valid {
			if t, err := time.Parse(time.RFC3339, resolvedAt.String); err == nil {
				e.ResolvedAt = &t
			}
		}
		entries[name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read geocode cache: %w", err)
	}

	if saved, err := db.GetMetadata(ctx, MetaSavedAt); err == nil && saved != "" {
		db.logger.Info("geocode database loaded", "entries", len(entries), "last_saved", saved)
	}
	return entries, nil
}

// Save replaces the stored cache with entries in one transaction, so names
// invalidated since the last load disappear.
func (db *DB) Save(ctx context.Context, entries map[string]geocode.Entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM geocode_cache`); err != nil {
		return fmt.Errorf("clear geocode cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geocode_cache (name, lat, lon, resolved_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for name, e := range entries {
		var lat, lon sql.NullFloat64
		if e.Found() {
			lat = sql.NullFloat64{Float64: *e.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: *e.Lon, Valid: true}
		}
		var resolvedAt sql.NullString
		if e.ResolvedAt != nil {
			resolvedAt = sql.NullString{String: e.ResolvedAt.UTC().Format(time.RFC3339), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, name, lat, lon, resolvedAt); err != nil {
			return fmt.Errorf("insert %q: %w", name, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for k, v := range map[string]string{MetaSavedAt: now, MetaEntryCount: strconv.Itoa(len(entries))} {
		if err := setMetadata(ctx, tx, k, v); err != nil {
			return fmt.Errorf("set metadata %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	db.logger.Debug("geocode cache saved", "entries", len(entries))
	return nil
}
