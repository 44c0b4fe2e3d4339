package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/stop"
)

// LoadSnapshot reads a previously written snapshot. A missing file yields
// (nil, nil): the first run has no previous snapshot.
func LoadSnapshot(path string) (*stop.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.PersistenceError{Op: "read", Path: path, Err: err}
	}

	var snap stop.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &errs.ParseError{Source: "snapshot", URL: path, Err: fmt.Errorf("decode: %w", err)}
	}
	// Older snapshots may predate the key field.
	for i := range snap.Stops {
		if snap.Stops[i].Key == "" {
			snap.Stops[i].Key = stop.Key(snap.Stops[i].Network, snap.Stops[i].Name)
		}
	}
	snap.Sort()
	return &snap, nil
}

// LoadPrevious is LoadSnapshot for the start of a run: a corrupt or
// unreadable snapshot is logged and treated as absent.
func LoadPrevious(path string, logger *slog.Logger) *stop.Snapshot {
	snap, err := LoadSnapshot(path)
	if err != nil {
		logger.Warn("ignoring previous snapshot", "path", path, "error", err)
		return nil
	}
	if snap == nil {
		logger.Info("no previous snapshot", "path", path)
		return nil
	}
	logger.Info("previous snapshot loaded", "path", path, "stops", snap.Len())
	return snap
}
