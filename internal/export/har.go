package export

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

// HAR 1.2 fields are camelCase; see http://www.softwareishard.com/blog/har-12-spec/

type HARLog struct {
	Log HARLogInner `json:"log"`
}

type HARLogInner struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Comment string     `json:"comment,omitempty"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            int64       `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
	Comment         string      `json:"comment,omitempty"`
}

type HARRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Cookies     []HARNameValue `json:"cookies"`
	Headers     []HARNameValue `json:"headers"`
	QueryString []HARNameValue `json:"queryString"`
	PostData    *HARPostData   `json:"postData,omitempty"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

type HARResponse struct {
	Status      int            `json:"status"`
	StatusText  string         `json:"statusText"`
	HTTPVersion string         `json:"httpVersion"`
	Cookies     []HARNameValue `json:"cookies"`
	Headers     []HARNameValue `json:"headers"`
	Content     HARContent     `json:"content"`
	RedirectURL string         `json:"redirectURL"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int64          `json:"bodySize"`
}

type HARContent struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type HARTimings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

type HARNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// BuildHAR converts records to a HAR log, oldest entry first.
func BuildHAR(records []types.TrafficRecord, meta Meta) HARLog {
	meta = meta.withDefaults()
	entries := make([]HAREntry, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		entries = append(entries, recordToHAREntry(records[i]))
	}
	return HARLog{
		Log: HARLogInner{
			Version: "1.2",
			Creator: HARCreator{Name: meta.Creator, Version: meta.Version},
			Comment: "export " + meta.ID + " scope=" + meta.Scope,
			Entries: entries,
		},
	}
}

func recordToHAREntry(rec types.TrafficRecord) HAREntry {
	started := rec.Timestamp
	if started.IsZero() {
		started = time.Unix(0, 0)
	}
	return HAREntry{
		StartedDateTime: started.UTC().Format(time.RFC3339Nano),
		Time:            rec.ResponseTimeMs,
		Request:         buildHARRequest(rec),
		Response:        buildHARResponse(rec),
		Timings: HARTimings{
			Send:    -1,
			Wait:    rec.ResponseTimeMs,
			Receive: -1,
		},
	}
}

func buildHARRequest(rec types.TrafficRecord) HARRequest {
	req := HARRequest{
		Method:      rec.Method,
		URL:         rec.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []HARNameValue{},
		Headers:     harHeaders(rec.RequestHeaders),
		QueryString: parseQueryString(rec.URL),
		HeadersSize: -1,
	}
	if len(rec.RequestBody) > 0 {
		req.PostData = &HARPostData{
			MimeType: rec.RequestHeaders.Get("Content-Type"),
			Text:     string(rec.RequestBody),
		}
		req.BodySize = len(rec.RequestBody)
	}
	return req
}

func buildHARResponse(rec types.TrafficRecord) HARResponse {
	resp := HARResponse{
		Status:      rec.StatusCode,
		StatusText:  http.StatusText(rec.StatusCode),
		HTTPVersion: "HTTP/1.1",
		Cookies:     []HARNameValue{},
		Headers:     harHeaders(rec.ResponseHeaders),
		RedirectURL: rec.ResponseHeaders.Get("Location"),
		HeadersSize: -1,
		BodySize:    rec.ResponseSizeBytes,
		Content: HARContent{
			Size:     int64(len(rec.ResponseBody)),
			MimeType: rec.ResponseHeaders.Get("Content-Type"),
		},
	}
	if len(rec.ResponseBody) > 0 {
		if utf8.Valid(rec.ResponseBody) {
			resp.Content.Text = string(rec.ResponseBody)
		} else {
			resp.Content.Text = base64.StdEncoding.EncodeToString(rec.ResponseBody)
			resp.Content.Encoding = "base64"
		}
	}
	return resp
}

func harHeaders(h types.Headers) []HARNameValue {
	out := make([]HARNameValue, 0, len(h))
	for _, kv := range h {
		out = append(out, HARNameValue{Name: kv.Name, Value: kv.Value})
	}
	return out
}

func parseQueryString(rawURL string) []HARNameValue {
	out := make([]HARNameValue, 0)
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	for _, pair := range splitQuery(u.RawQuery) {
		name, _ := url.QueryUnescape(pair[0])
		value, _ := url.QueryUnescape(pair[1])
		out = append(out, HARNameValue{Name: name, Value: value})
	}
	return out
}

// splitQuery keeps parameter order, which url.Values does not.
func splitQuery(raw string) [][2]string {
	var out [][2]string
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		out = append(out, [2]string{name, value})
	}
	return out
}
