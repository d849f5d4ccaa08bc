// Package controller exposes the history engine, the table layout and
// notifications as one service for the HTTP API.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/export"
	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/layout"
	"github.com/dgnsrekt/proxy_history/internal/notify"
	"github.com/dgnsrekt/proxy_history/internal/storage"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

// Service wraps history view operations.
type Service struct {
	engine    *history.Engine
	layout    *layout.Model
	notices   *notify.Center
	exportDir string
	now       func() time.Time
}

func NewService(engine *history.Engine, lay *layout.Model, notices *notify.Center, exportDir string) *Service {
	return &Service{engine: engine, layout: lay, notices: notices, exportDir: exportDir, now: time.Now}
}

func validation(msg string) error {
	return &history.CodedError{Code: history.CodeValidation, Message: msg}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return validation(fieldName + " is required")
	}
	return nil
}

// layoutErr gives layout failures the same coded shape as engine errors.
func layoutErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, layout.ErrUnknownColumn), errors.Is(err, layout.ErrUnknownPanel):
		return &history.CodedError{Code: history.CodeNotFound, Message: err.Error()}
	default:
		return &history.CodedError{Code: history.CodeTransientIO, Message: "persist layout", Cause: err}
	}
}

func (s *Service) ListRecords(ctx context.Context, offset, limit int) (history.Page, error) {
	return s.engine.View(ctx, offset, limit)
}

func (s *Service) Count(ctx context.Context) (history.Counts, error) {
	return s.engine.Count(ctx)
}

func (s *Service) Stats(ctx context.Context) (history.Stats, error) {
	return s.engine.Stats(ctx)
}

func (s *Service) GetRecord(ctx context.Context, id int64) (types.TrafficRecord, error) {
	return s.engine.Record(ctx, id)
}

func (s *Service) GetFilter(ctx context.Context) (history.Predicate, error) {
	return s.engine.Filter(ctx)
}

func (s *Service) SetFilter(ctx context.Context, p history.Predicate) (history.Counts, error) {
	return s.engine.SetFilter(ctx, p)
}

// SetStatusClassFilter accepts "4xx"-style buckets on top of the current filter.
func (s *Service) SetStatusClassFilter(ctx context.Context, class string) (history.Counts, error) {
	p, err := s.engine.Filter(ctx)
	if err != nil {
		return history.Counts{}, err
	}
	p.StatusClass = 0
	if strings.TrimSpace(class) != "" {
		c, err := history.ParseStatusClass(class)
		if err != nil {
			return history.Counts{}, validation(err.Error())
		}
		p.StatusClass = c
	}
	return s.engine.SetFilter(ctx, p)
}

func (s *Service) Scroll(ctx context.Context, vp history.ViewportState) (history.ScrollResult, error) {
	if vp.ItemHeightPx <= 0 {
		return history.ScrollResult{}, validation("item_height_px must be positive")
	}
	return s.engine.Scroll(ctx, vp)
}

func (s *Service) Select(ctx context.Context, id int64) (history.SelectionState, error) {
	return s.engine.Select(ctx, id)
}

func (s *Service) ClearSelection(ctx context.Context) error {
	return s.engine.ClearSelection(ctx)
}

func (s *Service) Selection(ctx context.Context) (history.SelectionState, error) {
	return s.engine.Selection(ctx)
}

func (s *Service) Detail(ctx context.Context, tab string) (string, error) {
	t := history.DetailTab(strings.ToLower(strings.TrimSpace(tab)))
	if t == "" {
		t = history.TabRaw
	}
	if !t.Valid() {
		return "", validation(fmt.Sprintf("unknown detail tab %q", tab))
	}
	return s.engine.DetailTab(ctx, t)
}

func (s *Service) ClearHistory(ctx context.Context) (int, error) {
	return s.engine.Clear(ctx)
}

func parseExport(format, scope string) (export.Format, history.Scope, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return "", "", validation(err.Error())
	}
	sc := history.Scope(strings.ToLower(strings.TrimSpace(scope)))
	if sc == "" {
		sc = history.ScopeFiltered
	}
	return f, sc, nil
}

// Export renders the export into memory and returns it with its content type.
func (s *Service) Export(ctx context.Context, format, scope string) ([]byte, string, error) {
	f, sc, err := parseExport(format, scope)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := s.engine.Export(ctx, &buf, f, sc); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), f.ContentType(), nil
}

// ExportToFile writes the export under the configured export directory.
func (s *Service) ExportToFile(ctx context.Context, format, scope string) (string, error) {
	f, sc, err := parseExport(format, scope)
	if err != nil {
		return "", err
	}
	if err := s.requireNonEmpty(s.exportDir, "export directory"); err != nil {
		return "", err
	}
	path, err := storage.WriteExportFile(s.exportDir, f.Extension(), s.now(), func(w io.Writer) error {
		return s.engine.Export(ctx, w, f, sc)
	})
	if err != nil {
		var coded *history.CodedError
		if errors.As(err, &coded) {
			return "", err
		}
		return "", &history.CodedError{Code: history.CodeTransientIO, Message: "write export file", Cause: err}
	}
	return path, nil
}

func (s *Service) GetLayout(ctx context.Context) (layout.Document, error) {
	return s.layout.Snapshot(), nil
}

func (s *Service) VisibleColumns(ctx context.Context) ([]layout.Column, error) {
	return s.layout.VisibleColumns(), nil
}

func (s *Service) ResizeColumn(ctx context.Context, id string, delta int) (layout.Column, error) {
	if err := s.requireNonEmpty(id, "column id"); err != nil {
		return layout.Column{}, err
	}
	c, err := s.layout.Resize(id, delta)
	return c, layoutErr(err)
}

func (s *Service) SetColumnWidth(ctx context.Context, id string, widthPx int) (layout.Column, error) {
	if err := s.requireNonEmpty(id, "column id"); err != nil {
		return layout.Column{}, err
	}
	c, err := s.layout.SetWidth(id, widthPx)
	return c, layoutErr(err)
}

func (s *Service) ToggleColumn(ctx context.Context, id string) (layout.Column, error) {
	if err := s.requireNonEmpty(id, "column id"); err != nil {
		return layout.Column{}, err
	}
	c, err := s.layout.ToggleVisibility(id)
	return c, layoutErr(err)
}

func (s *Service) ResizePanel(ctx context.Context, panel string, px int) (layout.Document, error) {
	doc, err := s.layout.ResizePanel(panel, px)
	return doc, layoutErr(err)
}

func (s *Service) ResetLayout(ctx context.Context) (layout.Document, error) {
	doc, err := s.layout.Reset()
	return doc, layoutErr(err)
}

func (s *Service) Notifications(ctx context.Context) ([]notify.Notification, error) {
	if s.notices == nil {
		return []notify.Notification{}, nil
	}
	return s.notices.Recent(), nil
}
