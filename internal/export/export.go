// Package export serializes an in-memory record set for download.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

// Format selects the serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatHAR  Format = "har"
)

// ParseFormat accepts a format name, case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatHAR:
		return f, nil
	case "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("export: unknown format %q", s)
	}
}

// ContentType is the media type a download of f should carry.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension is the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatText:
		return "txt"
	case FormatHAR:
		return "har"
	default:
		return "json"
	}
}

// Meta describes the exported set.
type Meta struct {
	ID          string    `json:"export_id"`
	Scope       string    `json:"scope"`
	Filter      string    `json:"filter,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Creator     string    `json:"-"`
	Version     string    `json:"-"`
}

func (m Meta) withDefaults() Meta {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	if m.Creator == "" {
		m.Creator = "proxy_history"
	}
	if m.Version == "" {
		m.Version = "dev"
	}
	return m
}

type jsonDocument struct {
	Meta
	Count   int                   `json:"count"`
	Records []types.TrafficRecord `json:"records"`
}

// Write serializes records (newest first, as held) in format f.
func Write(w io.Writer, f Format, records []types.TrafficRecord, meta Meta) error {
	meta = meta.withDefaults()
	switch f {
	case FormatJSON, "":
		if records == nil {
			records = []types.TrafficRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(jsonDocument{Meta: meta, Count: len(records), Records: records}); err != nil {
			return fmt.Errorf("export: json: %w", err)
		}
		return nil
	case FormatText:
		return writeText(w, records, meta)
	case FormatHAR:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(BuildHAR(records, meta)); err != nil {
			return fmt.Errorf("export: har: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
}

func writeText(w io.Writer, records []types.TrafficRecord, meta Meta) error {
	ew := &errWriter{w: w}
	ew.printf("# export %s scope=%s records=%d generated=%s\n",
		meta.ID, meta.Scope, len(records), meta.GeneratedAt.Format(time.RFC3339))
	if meta.Filter != "" {
		ew.printf("# filter %s\n", meta.Filter)
	}
	for _, rec := range records {
		ew.printf("%d\t%s\t%s\t%s\t%d\t%s\t%dms\t%dB\t%s\n",
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Protocol,
			rec.Method,
			rec.StatusCode,
			statusText(rec.StatusCode),
			rec.ResponseTimeMs,
			rec.ResponseSizeBytes,
			rec.URL,
		)
	}
	if ew.err != nil {
		return fmt.Errorf("export: text: %w", ew.err)
	}
	return nil
}

func statusText(code int) string {
	if s := http.StatusText(code); s != "" {
		return strings.ReplaceAll(s, " ", "_")
	}
	return "-"
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
