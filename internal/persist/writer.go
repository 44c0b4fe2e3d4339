package persist

import (
	"log/slog"

	"shuttlestops/internal/diff"
	"shuttlestops/internal/stop"
)

// Writer persists the snapshot and change report of one run.
type Writer struct {
	snapshotPath string
	changesPath  string
	logger       *slog.Logger
}

// NewWriter creates a Writer for the given output paths.
func NewWriter(snapshotPath, changesPath string, logger *slog.Logger) *Writer {
	return &Writer{snapshotPath: snapshotPath, changesPath: changesPath, logger: logger}
}

// WriteSnapshot replaces the snapshot file.
func (w *Writer) WriteSnapshot(snap *stop.Snapshot) error {
	if err := WriteJSON(w.snapshotPath, snap); err != nil {
		return err
	}
	w.logger.Info("snapshot written", "path", w.snapshotPath, "stops", snap.Len())
	return nil
}

// WriteReport replaces the change report file.
func (w *Writer) WriteReport(report *diff.Report) error {
	if err := WriteJSON(w.changesPath, report); err != nil {
		return err
	}
	w.logger.Info("change report written", "path", w.changesPath,
		"added", len(report.Added), "removed", len(report.Removed), "modified", len(report.Modified))
	return nil
}

// Write persists the snapshot first, then the report. The report is only
// written once the snapshot it describes is in place.
func (w *Writer) Write(snap *stop.Snapshot, report *diff.Report) error {
	if err := w.WriteSnapshot(snap); err != nil {
		return err
	}
	return w.WriteReport(report)
}
