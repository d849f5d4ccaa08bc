package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs one line per request. Stream endpoints stay open for the
// life of a client, so they also get a line when they open.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		stream := isStreamPath(r.URL.Path)
		if stream {
			slog.Info("stream opened", "path", r.URL.Path, "remote", r.RemoteAddr, "request_id", reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case r.URL.Path == "/health":
			level = slog.LevelDebug
		}
		msg := "http request"
		if stream {
			msg = "stream closed"
		}
		slog.Log(r.Context(), level, msg,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		)
	})
}

func isStreamPath(p string) bool {
	return strings.HasSuffix(p, "/events") || strings.HasSuffix(p, "/ws")
}
