package tui

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/proxy_history/internal/layout"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

// pxPerCell converts persisted pixel widths to terminal cells.
const pxPerCell = 8

func cellWidth(c layout.Column) int {
	return max(c.WidthPx/pxPerCell, 3)
}

func cellValue(id string, r types.TrafficRecord) string {
	switch id {
	case "id":
		return strconv.FormatInt(r.ID, 10)
	case "method":
		return r.Method
	case "protocol":
		return string(r.Protocol)
	case "host":
		return r.Host
	case "url":
		return r.URL
	case "status":
		if r.StatusCode == 0 {
			return "-"
		}
		return strconv.Itoa(r.StatusCode)
	case "length":
		return humanBytes(r.ResponseSizeBytes)
	case "time":
		return fmt.Sprintf("%dms", r.ResponseTimeMs)
	case "timestamp":
		if r.Timestamp.IsZero() {
			return "-"
		}
		return r.Timestamp.Local().Format("15:04:05.000")
	}
	return ""
}

// fit pads or truncates s to exactly w runes.
func fit(s string, w int) string {
	if w <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n <= w {
		return s + strings.Repeat(" ", w-n)
	}
	if w == 1 {
		return "…"
	}
	runes := []rune(s)
	return string(runes[:w-1]) + "…"
}

func humanBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
	}
}
