package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/layout"
	"github.com/dgnsrekt/proxy_history/internal/notify"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

type Service interface {
	ListRecords(ctx context.Context, offset, limit int) (history.Page, error)
	Count(ctx context.Context) (history.Counts, error)
	Stats(ctx context.Context) (history.Stats, error)
	GetRecord(ctx context.Context, id int64) (types.TrafficRecord, error)
	GetFilter(ctx context.Context) (history.Predicate, error)
	SetFilter(ctx context.Context, p history.Predicate) (history.Counts, error)
	SetStatusClassFilter(ctx context.Context, class string) (history.Counts, error)
	Scroll(ctx context.Context, vp history.ViewportState) (history.ScrollResult, error)
	Select(ctx context.Context, id int64) (history.SelectionState, error)
	ClearSelection(ctx context.Context) error
	Selection(ctx context.Context) (history.SelectionState, error)
	Detail(ctx context.Context, tab string) (string, error)
	ClearHistory(ctx context.Context) (int, error)
	Export(ctx context.Context, format, scope string) ([]byte, string, error)
	ExportToFile(ctx context.Context, format, scope string) (string, error)
	GetLayout(ctx context.Context) (layout.Document, error)
	VisibleColumns(ctx context.Context) ([]layout.Column, error)
	ResizeColumn(ctx context.Context, id string, delta int) (layout.Column, error)
	SetColumnWidth(ctx context.Context, id string, widthPx int) (layout.Column, error)
	ToggleColumn(ctx context.Context, id string) (layout.Column, error)
	ResizePanel(ctx context.Context, panel string, px int) (layout.Document, error)
	ResetLayout(ctx context.Context) (layout.Document, error)
	Notifications(ctx context.Context) ([]notify.Notification, error)
}

// Streams are the push endpoints mounted next to the API. Either may be nil.
type Streams struct {
	SSE       http.Handler
	WebSocket http.Handler
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func NewServer(svc Service, streams Streams) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Proxy History API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if streams.SSE != nil {
		router.Method(http.MethodGet, "/api/v1/events", streams.SSE)
	}
	if streams.WebSocket != nil {
		router.Method(http.MethodGet, "/api/v1/ws", streams.WebSocket)
	}

	registerHistoryHandlers(api, svc)
	registerLayoutHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error503ServiceUnavailable("request cancelled")
	}
	var coded *history.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case history.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case history.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case history.CodeMalformedEvent:
			return huma.Error422UnprocessableEntity(coded.Message)
		case history.CodeTransientIO:
			return huma.Error502BadGateway(coded.Error())
		case history.CodeClosed:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
