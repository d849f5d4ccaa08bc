package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

func sampleRecords() []types.TrafficRecord {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []types.TrafficRecord{
		{
			ID: 2, URL: "https://api.example.com/search?q=go&page=2", Host: "api.example.com",
			Method: "POST", Protocol: types.ProtocolHTTPS, StatusCode: 201,
			RequestHeaders:  types.Headers{{Name: "Content-Type", Value: "application/json"}},
			RequestBody:     types.Body(`{"a":1}`),
			ResponseHeaders: types.Headers{{Name: "Content-Type", Value: "image/png"}},
			ResponseBody:    types.Body{0x89, 0x50, 0xff},
			ResponseTimeMs:  42, ResponseSizeBytes: 3, Timestamp: ts.Add(time.Second),
		},
		{
			ID: 1, URL: "http://example.com/", Host: "example.com",
			Method: "GET", Protocol: types.ProtocolHTTP, StatusCode: 404,
			ResponseTimeMs: 7, Timestamp: ts,
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "txt": FormatText, "har": FormatHAR} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Fatalf("ParseFormat(csv) error = nil; want error")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	meta := Meta{ID: "exp-1", Scope: "all", GeneratedAt: time.Unix(0, 0).UTC()}
	if err := Write(&buf, FormatJSON, sampleRecords(), meta); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var doc struct {
		ExportID string `json:"export_id"`
		Count    int    `json:"count"`
		Records  []struct {
			ID int64 `json:"id"`
		} `json:"records"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.ExportID != "exp-1" || doc.Count != 2 || doc.Records[0].ID != 2 {
		t.Fatalf("Write(json) = %+v; want id exp-1, 2 records newest first", doc)
	}
}

func TestWriteTextOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatText, sampleRecords(), Meta{Scope: "filtered", Filter: "status=4xx"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if got, want := len(lines), 4; got != want {
		t.Fatalf("lines = %d; want %d:\n%s", got, want, buf.String())
	}
	if !strings.HasPrefix(lines[1], "# filter status=4xx") {
		t.Fatalf("filter line = %q", lines[1])
	}
	if !strings.Contains(lines[3], "404\tNot_Found") || !strings.HasSuffix(lines[3], "http://example.com/") {
		t.Fatalf("record line = %q", lines[3])
	}
}

func TestBuildHAR(t *testing.T) {
	har := BuildHAR(sampleRecords(), Meta{ID: "exp-2", Scope: "all"})
	if got, want := har.Log.Version, "1.2"; got != want {
		t.Fatalf("Version = %q; want %q", got, want)
	}
	entries := har.Log.Entries
	if got, want := len(entries), 2; got != want {
		t.Fatalf("len(Entries) = %d; want %d", got, want)
	}
	if got, want := entries[0].Request.URL, "http://example.com/"; got != want {
		t.Fatalf("first entry URL = %q; want oldest record %q", got, want)
	}

	post := entries[1]
	if post.Request.PostData == nil || post.Request.PostData.Text != `{"a":1}` {
		t.Fatalf("PostData = %+v; want request body", post.Request.PostData)
	}
	if got, want := len(post.Request.QueryString), 2; got != want {
		t.Fatalf("len(QueryString) = %d; want %d", got, want)
	}
	if post.Request.QueryString[0].Name != "q" || post.Request.QueryString[1].Value != "2" {
		t.Fatalf("QueryString = %+v; want q=go, page=2 in order", post.Request.QueryString)
	}
	if got, want := post.Response.Content.Encoding, "base64"; got != want {
		t.Fatalf("binary content encoding = %q; want %q", got, want)
	}
	if got, want := post.Response.StatusText, "Created"; got != want {
		t.Fatalf("StatusText = %q; want %q", got, want)
	}
}
