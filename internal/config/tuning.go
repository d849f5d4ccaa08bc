package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 100 * time.Millisecond

// TuningFile is the YAML override document. Absent keys keep the base value.
type TuningFile struct {
	BatchThreshold       *int `yaml:"batch_threshold"`
	BatchIdleMS          *int `yaml:"batch_idle_ms"`
	MaxRenderRows        *int `yaml:"max_render_rows"`
	PaginationDistancePx *int `yaml:"pagination_distance_px"`
	PageSize             *int `yaml:"page_size"`
}

// Overlay applies the file's values onto base.
func (f TuningFile) Overlay(base Tuning) Tuning {
	if f.BatchThreshold != nil {
		base.BatchThreshold = *f.BatchThreshold
	}
	if f.BatchIdleMS != nil {
		base.BatchIdleDelay = time.Duration(*f.BatchIdleMS) * time.Millisecond
	}
	if f.MaxRenderRows != nil {
		base.MaxRenderRows = *f.MaxRenderRows
	}
	if f.PaginationDistancePx != nil {
		base.PaginationDistancePx = *f.PaginationDistancePx
	}
	if f.PageSize != nil {
		base.PageSize = *f.PageSize
	}
	return base
}

func (f TuningFile) validate() error {
	check := func(name string, v *int, minVal int) error {
		if v != nil && *v < minVal {
			return fmt.Errorf("tuning config: %s must be >= %d, got %d", name, minVal, *v)
		}
		return nil
	}
	return errors.Join(
		check("batch_threshold", f.BatchThreshold, 1),
		check("batch_idle_ms", f.BatchIdleMS, 0),
		check("max_render_rows", f.MaxRenderRows, 1),
		check("pagination_distance_px", f.PaginationDistancePx, 0),
		check("page_size", f.PageSize, 1),
	)
}

// LoadTuning reads path and overlays it onto base. A missing file returns an
// os.ErrNotExist-wrapped error; callers treat that as "no overrides".
func LoadTuning(path string, base Tuning) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("tuning config: %w", err)
	}
	var f TuningFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("tuning config: %w", err)
	}
	if err := f.validate(); err != nil {
		return base, err
	}
	return f.Overlay(base), nil
}

// WatchTuning re-reads path whenever it changes and passes the result to
// apply. It watches the parent directory so editors that replace the file
// are seen. Blocks until ctx is done.
func WatchTuning(ctx context.Context, path string, base Tuning, apply func(Tuning)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("tuning config: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tuning config: watcher: %w", err)
	}
	defer func() {
		if err := fsw.Close(); err != nil {
			slog.Debug("tuning watcher close failed", "error", err)
		}
	}()
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("tuning config: watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("tuning watcher error", "error", err)
		case <-debounce:
			debounce = nil
			t, err := LoadTuning(abs, base)
			if err != nil {
				slog.Warn("tuning reload rejected", "path", abs, "error", err)
				continue
			}
			slog.Info("tuning reloaded", "path", abs,
				"batch_threshold", t.BatchThreshold,
				"batch_idle", t.BatchIdleDelay,
				"max_render_rows", t.MaxRenderRows,
				"pagination_distance_px", t.PaginationDistancePx,
				"page_size", t.PageSize)
			apply(t)
		}
	}
}
