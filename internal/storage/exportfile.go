package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// WriteExportFile writes an export under dir as history-<UTC stamp>.<ext>.
// The file appears only once write has succeeded.
func WriteExportFile(dir, ext string, at time.Time, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: export: create dir: %w", err)
	}
	name := fmt.Sprintf("history-%s.%s", at.UTC().Format("20060102T150405Z"), ext)
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("storage: export: temp file: %w", err)
	}
	cleanup := func() {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Debug("storage: export: remove temp file", "path", tmp.Name(), "error", rmErr)
		}
	}

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("storage: export: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return "", fmt.Errorf("storage: export: rename: %w", err)
	}
	return path, nil
}
