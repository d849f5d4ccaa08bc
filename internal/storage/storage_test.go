package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestJSONLWriterFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "quarantine", 16, 1)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "2024-05-01", "quarantine.jsonl"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		if rec["n"] != lines {
			t.Fatalf("line %d = %v; want n=%d", lines, rec, lines)
		}
		lines++
	}
	if got, want := lines, 3; got != want {
		t.Fatalf("lines = %d; want %d", got, want)
	}
	if got, want := w.Written(), int64(3); got != want {
		t.Fatalf("Written() = %d; want %d", got, want)
	}
}

func TestJSONLWriterRejectsAfterClose(t *testing.T) {
	w := NewJSONLWriter(t.TempDir(), "quarantine", 1, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write("x"); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("Write() after Close error = %v; want ErrWriterClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestWriteExportFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	path, err := WriteExportFile(dir, "har", at, func(w io.Writer) error {
		_, err := io.WriteString(w, `{"log":{}}`)
		return err
	})
	if err != nil {
		t.Fatalf("WriteExportFile() error = %v", err)
	}
	if got, want := filepath.Base(path), "history-20240501T123000Z.har"; got != want {
		t.Fatalf("file = %q; want %q", got, want)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"log":{}}` {
		t.Fatalf("contents = %q, %v", data, err)
	}
}

func TestWriteExportFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteExportFile(dir, "json", time.Now(), func(io.Writer) error {
		return errors.New("engine closed")
	})
	if err == nil || !strings.Contains(err.Error(), "engine closed") {
		t.Fatalf("WriteExportFile() error = %v; want writer error", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("dir has %d entries after failure; want 0", len(entries))
	}
}
