// Package persist writes the run outputs. Every file is replaced atomically:
// the new content goes to a temporary file in the target directory, is
// synced, and is renamed over the target, so readers see either the old or
// the new file and a failed run never leaves a truncated one behind.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	errs "shuttlestops/internal/errors"
)

// WriteJSON encodes v as indented JSON and atomically replaces path with it.
// Nothing is written when encoding fails.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &errs.PersistenceError{Op: "encode", Path: path, Err: err}
	}
	return WriteFile(path, buf.Bytes())
}

// WriteFile atomically replaces path with data, creating parent directories.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &errs.PersistenceError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return &errs.PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &errs.PersistenceError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.PersistenceError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &errs.PersistenceError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &errs.PersistenceError{Op: "rename", Path: path, Err: fmt.Errorf("replace: %w", err)}
	}
	committed = true
	return nil
}
