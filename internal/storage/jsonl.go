// Package storage writes dropped events and exports to disk.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrWriterClosed = errors.New("storage: writer is closed")
	ErrBufferFull   = errors.New("storage: buffer full")
)

// JSONLWriter appends JSON lines asynchronously to baseDir/<date>/<name>.jsonl,
// rotating by size through lumberjack and by UTC date.
type JSONLWriter struct {
	baseDir   string
	name      string
	maxSizeMB int
	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64
	written   atomic.Int64

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter starts the writer goroutine. Close must be called to flush.
func NewJSONLWriter(baseDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record without blocking. A full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		w.dropped.Add(1)
		slog.Warn("jsonl buffer full, dropping record", "name", w.name)
		return ErrBufferFull
	}
}

// Dropped returns how many records were lost to a full buffer.
func (w *JSONLWriter) Dropped() int64 { return w.dropped.Load() }

// Written returns how many records reached the file.
func (w *JSONLWriter) Written() int64 { return w.written.Load() }

// Close stops the writer after draining queued records.
func (w *JSONLWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			w.drain(5 * time.Second)
			return
		}
	}
}

func (w *JSONLWriter) drain(limit time.Duration) {
	timeout := time.After(limit)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("jsonl close timeout, queued records lost", "name", w.name, "queued", len(w.writeCh))
			return
		default:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("jsonl marshal failed", "error", err, "name", w.name)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("jsonl rotate failed", "error", err, "name", w.name)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("jsonl write failed", "error", err, "name", w.name)
		return
	}
	w.written.Add(1)
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.logger != nil {
		if err := w.logger.Close(); err != nil {
			slog.Debug("jsonl close previous file", "error", err)
		}
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create %s: %w", dir, err)
	}

	filename := filepath.Join(dir, w.name+".jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("opened jsonl file", "file", filename)
	return nil
}
