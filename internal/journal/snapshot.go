package journal

import (
	"fmt"
	"os"
	"sync"

	"perp_bot/internal/models"

	"github.com/bytedance/sonic"
)

// SnapshotWriter persists the open-position summary: overwritten at
// session start, then appended during the run up to a line cap so the
// file cannot grow without bound.
type SnapshotWriter struct {
	mu       sync.Mutex
	path     string
	maxLines int
	lines    int
}

func NewSnapshotWriter(path string, maxLines int) *SnapshotWriter {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &SnapshotWriter{path: path, maxLines: maxLines}
}

// Reset truncates the file and writes the initial summary.
func (w *SnapshotWriter) Reset(sum *models.PositionSummary) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("SnapshotWriter.Reset: %w", err)
		}
	}()

	data, err := sonic.Marshal(sum)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = 1
	return os.WriteFile(w.path, append(data, '\n'), 0o644)
}

// Append adds one summary line; silently stops at the cap.
func (w *SnapshotWriter) Append(sum *models.PositionSummary) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("SnapshotWriter.Append: %w", err)
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lines >= w.maxLines {
		return nil
	}
	data, err := sonic.Marshal(sum)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	w.lines++
	return nil
}
