package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed marks an event payload that cannot become a TrafficRecord.
var ErrMalformed = errors.New("malformed traffic event")

// fieldAliases lists accepted spellings per field. The capture engine emits
// snake_case; some panels forward camelCase.
var fieldAliases = map[string][]string{
	"id":               {"id"},
	"url":              {"url"},
	"host":             {"host"},
	"method":           {"method"},
	"protocol":         {"protocol"},
	"status_code":      {"status_code", "statusCode", "status"},
	"request_headers":  {"request_headers", "requestHeaders"},
	"response_headers": {"response_headers", "responseHeaders"},
	"request_body":     {"request_body", "requestBody"},
	"response_body":    {"response_body", "responseBody"},
	"response_size":    {"response_size", "responseSize", "responseSizeBytes"},
	"response_time":    {"response_time", "responseTime", "responseTimeMs"},
	"timestamp":        {"timestamp"},

	"was_edited":              {"was_edited", "wasEdited"},
	"edited_method":           {"edited_method", "editedMethod"},
	"edited_url":              {"edited_url", "editedUrl"},
	"edited_request_headers":  {"edited_request_headers", "editedRequestHeaders"},
	"edited_request_body":     {"edited_request_body", "editedRequestBody"},
	"edited_status_code":      {"edited_status_code", "editedStatusCode"},
	"edited_response_headers": {"edited_response_headers", "editedResponseHeaders"},
	"edited_response_body":    {"edited_response_body", "editedResponseBody"},
}

// DecodeRecord decodes one event payload. Headers may be objects, pair arrays
// or pre-serialized strings. Missing host and protocol are derived from the URL.
// Every failure wraps ErrMalformed.
func DecodeRecord(payload []byte) (TrafficRecord, error) {
	payload = bytes.TrimSpace(payload)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return TrafficRecord{}, malformed("payload is not a json object: %v", err)
	}
	if inner, ok := fields["payload"]; ok && len(fields) <= 2 {
		// {"event": "...", "payload": {...}} envelope
		return DecodeRecord(inner)
	}

	lookup := func(name string) (json.RawMessage, bool) {
		for _, alias := range fieldAliases[name] {
			if raw, ok := fields[alias]; ok && string(raw) != "null" {
				return raw, true
			}
		}
		return nil, false
	}

	var rec TrafficRecord
	raw, ok := lookup("id")
	if !ok {
		return TrafficRecord{}, malformed("missing id")
	}
	id, err := decodeInt(raw)
	if err != nil || id <= 0 {
		return TrafficRecord{}, malformed("invalid id %s", truncateForError(raw))
	}
	rec.ID = id

	if raw, ok := lookup("url"); ok {
		if err := json.Unmarshal(raw, &rec.URL); err != nil {
			return TrafficRecord{}, malformed("url: %v", err)
		}
	}
	if raw, ok := lookup("host"); ok {
		if err := json.Unmarshal(raw, &rec.Host); err != nil {
			return TrafficRecord{}, malformed("host: %v", err)
		}
	}
	if raw, ok := lookup("method"); ok {
		if err := json.Unmarshal(raw, &rec.Method); err != nil {
			return TrafficRecord{}, malformed("method: %v", err)
		}
	}
	rec.Method = strings.ToUpper(strings.TrimSpace(rec.Method))
	if rec.Method == "" {
		return TrafficRecord{}, malformed("missing method")
	}
	if rec.URL == "" && rec.Host == "" {
		return TrafficRecord{}, malformed("missing url and host")
	}

	if raw, ok := lookup("protocol"); ok {
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return TrafficRecord{}, malformed("protocol: %v", err)
		}
		rec.Protocol = Protocol(strings.ToLower(p))
	}
	if rec.URL != "" && (rec.Host == "" || rec.Protocol == "") {
		if u, err := url.Parse(rec.URL); err == nil {
			if rec.Host == "" {
				rec.Host = u.Host
			}
			if rec.Protocol == "" {
				rec.Protocol = Protocol(strings.ToLower(u.Scheme))
			}
		}
	}
	if !rec.Protocol.Valid() {
		return TrafficRecord{}, malformed("unsupported protocol %q", rec.Protocol)
	}

	if raw, ok := lookup("status_code"); ok {
		code, err := decodeInt(raw)
		if err != nil {
			return TrafficRecord{}, malformed("status_code: %v", err)
		}
		rec.StatusCode = int(code)
	}
	if raw, ok := lookup("request_headers"); ok {
		if err := json.Unmarshal(raw, &rec.RequestHeaders); err != nil {
			return TrafficRecord{}, malformed("request_headers: %v", err)
		}
	}
	if raw, ok := lookup("response_headers"); ok {
		if err := json.Unmarshal(raw, &rec.ResponseHeaders); err != nil {
			return TrafficRecord{}, malformed("response_headers: %v", err)
		}
	}
	if raw, ok := lookup("request_body"); ok {
		if err := json.Unmarshal(raw, &rec.RequestBody); err != nil {
			return TrafficRecord{}, malformed("request_body: %v", err)
		}
	}
	if raw, ok := lookup("response_body"); ok {
		if err := json.Unmarshal(raw, &rec.ResponseBody); err != nil {
			return TrafficRecord{}, malformed("response_body: %v", err)
		}
	}
	if raw, ok := lookup("response_size"); ok {
		if rec.ResponseSizeBytes, err = decodeInt(raw); err != nil {
			return TrafficRecord{}, malformed("response_size: %v", err)
		}
	} else {
		rec.ResponseSizeBytes = int64(len(rec.ResponseBody))
	}
	if raw, ok := lookup("response_time"); ok {
		if rec.ResponseTimeMs, err = decodeInt(raw); err != nil {
			return TrafficRecord{}, malformed("response_time: %v", err)
		}
	}
	if rec.ResponseSizeBytes < 0 || rec.ResponseTimeMs < 0 {
		return TrafficRecord{}, malformed("negative size or time")
	}
	if raw, ok := lookup("timestamp"); ok {
		ts, err := decodeTimestamp(raw)
		if err != nil {
			return TrafficRecord{}, malformed("timestamp: %v", err)
		}
		rec.Timestamp = ts
	}
	if rec.Edited, err = decodeEdit(lookup); err != nil {
		return TrafficRecord{}, err
	}

	return rec, nil
}

// decodeEdit reads the flat edited_* fields. It returns nil when the record
// was not edited.
func decodeEdit(lookup func(string) (json.RawMessage, bool)) (*Edit, error) {
	var (
		e      Edit
		flag   bool
		fields int
	)
	if raw, ok := lookup("was_edited"); ok {
		if err := json.Unmarshal(raw, &flag); err != nil {
			return nil, malformed("was_edited: %v", err)
		}
	}
	into := map[string]any{
		"edited_method":           &e.Method,
		"edited_url":              &e.URL,
		"edited_request_headers":  &e.RequestHeaders,
		"edited_request_body":     &e.RequestBody,
		"edited_response_headers": &e.ResponseHeaders,
		"edited_response_body":    &e.ResponseBody,
	}
	for name, dst := range into {
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, malformed("%s: %v", name, err)
		}
		fields++
	}
	if raw, ok := lookup("edited_status_code"); ok {
		code, err := decodeInt(raw)
		if err != nil {
			return nil, malformed("edited_status_code: %v", err)
		}
		e.StatusCode = int(code)
		fields++
	}
	if !flag && fields == 0 {
		return nil, nil
	}
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	return &e, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// decodeInt accepts JSON numbers and numeric strings.
func decodeInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", truncateForError(raw))
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// decodeTimestamp accepts RFC 3339 strings and unix epoch milliseconds.
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	ms, err := decodeInt(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
