package types

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Protocol is the scheme a traffic record was captured on.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// TrafficRecord represents one intercepted request/response exchange.
// Records are immutable once stored; updates arrive as new records.
type TrafficRecord struct {
	ID                int64     `json:"id"`
	URL               string    `json:"url"`
	Host              string    `json:"host"`
	Method            string    `json:"method"`
	Protocol          Protocol  `json:"protocol"`
	StatusCode        int       `json:"status_code"`
	RequestHeaders    Headers   `json:"request_headers,omitempty"`
	ResponseHeaders   Headers   `json:"response_headers,omitempty"`
	RequestBody       Body      `json:"request_body,omitempty"`
	ResponseBody      Body      `json:"response_body,omitempty"`
	ResponseSizeBytes int64     `json:"response_size"`
	ResponseTimeMs    int64     `json:"response_time"`
	Timestamp         time.Time `json:"timestamp"`
	// Edited is set when the exchange was changed at an intercept point
	// before being forwarded. The fields above keep what was captured.
	Edited *Edit `json:"edited,omitempty"`
}

// Edit holds the values an intercept edit forwarded in place of the captured
// ones. Zero fields were left unchanged.
type Edit struct {
	Method          string  `json:"method,omitempty"`
	URL             string  `json:"url,omitempty"`
	RequestHeaders  Headers `json:"request_headers,omitempty"`
	RequestBody     Body    `json:"request_body,omitempty"`
	StatusCode      int     `json:"status_code,omitempty"`
	ResponseHeaders Headers `json:"response_headers,omitempty"`
	ResponseBody    Body    `json:"response_body,omitempty"`
}

// RequestEdited reports whether any request-side field was changed.
func (e *Edit) RequestEdited() bool {
	return e != nil && (e.Method != "" || e.URL != "" || e.RequestHeaders != nil || e.RequestBody != nil)
}

// ResponseEdited reports whether any response-side field was changed.
func (e *Edit) ResponseEdited() bool {
	return e != nil && (e.StatusCode != 0 || e.ResponseHeaders != nil || e.ResponseBody != nil)
}

// StatusClass returns the hundreds bucket of the status code (2 for 2xx),
// or 0 when the code is outside 100..599.
func (r TrafficRecord) StatusClass() int {
	if r.StatusCode < 100 || r.StatusCode >= 600 {
		return 0
	}
	return r.StatusCode / 100
}

// Body is an optional byte sequence. It serializes as a JSON string when the
// bytes are valid UTF-8 and as {"base64": "..."} otherwise.
type Body []byte

func (b Body) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	if utf8.Valid(b) {
		return json.Marshal(string(b))
	}
	return json.Marshal(struct {
		Base64 string `json:"base64"`
	}{Base64: base64.StdEncoding.EncodeToString(b)})
}

func (b *Body) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body(s)
		return nil
	}
	var wrapped struct {
		Base64 string `json:"base64"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(wrapped.Base64)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// FetchRequest asks the backend for a page of older records.
type FetchRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FetchResponse is the backend reply to a FetchRequest. Data is newest-first.
type FetchResponse struct {
	Success bool            `json:"success"`
	Data    []TrafficRecord `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// ClearResponse is the backend reply to a clear-history command.
type ClearResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
