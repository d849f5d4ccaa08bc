package history

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

// DefaultMaxDecodedBytes bounds a body after content decoding in the pretty tab.
const DefaultMaxDecodedBytes = 8 << 20

// maxCachedRender is the largest rendering kept for the life of a selection.
// Larger ones are rebuilt on each request.
const maxCachedRender = 1 << 20

// ErrDecodedTooLarge is returned by DecompressLimit when the decoded body
// would exceed the limit.
var ErrDecodedTooLarge = errors.New("decoded body exceeds limit")

// DetailTab names one representation of the selected record.
type DetailTab string

const (
	TabRaw    DetailTab = "raw"
	TabPretty DetailTab = "pretty"
	TabHex    DetailTab = "hex"
)

func (t DetailTab) Valid() bool {
	switch t {
	case TabRaw, TabPretty, TabHex:
		return true
	}
	return false
}

// DetailPane holds the selection and its lazily rendered tabs. Renderings
// live only as long as the selection does.
type DetailPane struct {
	selected   bool
	record     types.TrafficRecord
	tab        DetailTab
	rendered   map[DetailTab]string
	maxDecoded int
}

func NewDetailPane() *DetailPane {
	return &DetailPane{tab: TabRaw, maxDecoded: DefaultMaxDecodedBytes}
}

// SetMaxDecoded changes the decoded-body bound. Non-positive n restores the
// default.
func (d *DetailPane) SetMaxDecoded(n int) {
	if n <= 0 {
		n = DefaultMaxDecodedBytes
	}
	d.maxDecoded = n
}

func (d *DetailPane) MaxDecoded() int { return d.maxDecoded }

// Select makes id the selection if the store holds it; otherwise the
// selection is cleared. It reports whether a record is selected afterwards.
func (d *DetailPane) Select(store *RecordStore, id int64) bool {
	rec, ok := store.ByID(id)
	if !ok {
		d.Clear()
		return false
	}
	if d.selected && d.record.ID == id {
		return true
	}
	d.selected = true
	d.record = rec
	d.rendered = nil
	return true
}

// Clear drops the selection and every cached rendering.
func (d *DetailPane) Clear() {
	d.selected = false
	d.record = types.TrafficRecord{}
	d.rendered = nil
}

// Selected returns the selected record.
func (d *DetailPane) Selected() (types.TrafficRecord, bool) {
	return d.record, d.selected
}

func (d *DetailPane) SelectedID() (int64, bool) {
	return d.record.ID, d.selected
}

func (d *DetailPane) Tab() DetailTab { return d.tab }

func (d *DetailPane) SetTab(tab DetailTab) error {
	if !tab.Valid() {
		return newError(CodeValidation, fmt.Sprintf("unknown detail tab %q", tab), nil)
	}
	d.tab = tab
	return nil
}

// Render returns tab for the current selection, building it on first use.
func (d *DetailPane) Render(tab DetailTab) (string, error) {
	s, rec, ok, err := d.lookup(tab)
	if err != nil || ok {
		return s, err
	}
	s = RenderTab(rec, tab, d.maxDecoded)
	d.keep(rec.ID, tab, s)
	return s, nil
}

// lookup returns the cached rendering of tab, or the record to render it from.
func (d *DetailPane) lookup(tab DetailTab) (string, types.TrafficRecord, bool, error) {
	if !tab.Valid() {
		return "", types.TrafficRecord{}, false, newError(CodeValidation, fmt.Sprintf("unknown detail tab %q", tab), nil)
	}
	if !d.selected {
		return "", types.TrafficRecord{}, false, newError(CodeNotFound, "no record selected", nil)
	}
	if s, ok := d.rendered[tab]; ok {
		return s, types.TrafficRecord{}, true, nil
	}
	return "", d.record, false, nil
}

// keep caches s for tab if id is still the selection and s is small enough.
func (d *DetailPane) keep(id int64, tab DetailTab, s string) {
	if !d.selected || d.record.ID != id || len(s) > maxCachedRender {
		return
	}
	if d.rendered == nil {
		d.rendered = make(map[DetailTab]string, 3)
	}
	d.rendered[tab] = s
}

// RenderTab builds one representation of rec. maxDecoded bounds bodies in the
// pretty tab after content decoding.
func RenderTab(rec types.TrafficRecord, tab DetailTab, maxDecoded int) string {
	switch tab {
	case TabPretty:
		return renderPretty(rec, maxDecoded)
	case TabHex:
		return RenderHex(rec)
	default:
		return RenderRaw(rec)
	}
}

// RenderRaw reconstructs a wire-like HTTP/1.1 request and response.
func RenderRaw(rec types.TrafficRecord) string {
	var b strings.Builder
	target := "/"
	if u, err := url.Parse(rec.URL); err == nil && u.RequestURI() != "" {
		target = u.RequestURI()
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", rec.Method, target)
	if rec.RequestHeaders.Get("Host") == "" && rec.Host != "" {
		fmt.Fprintf(&b, "Host: %s\r\n", rec.Host)
	}
	writeHeaders(&b, rec.RequestHeaders)
	b.WriteString("\r\n")
	b.Write(rec.RequestBody)

	if rec.StatusCode == 0 && len(rec.ResponseHeaders) == 0 && len(rec.ResponseBody) == 0 {
		return b.String()
	}
	if len(rec.RequestBody) > 0 {
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", rec.StatusCode, http.StatusText(rec.StatusCode))
	writeHeaders(&b, rec.ResponseHeaders)
	b.WriteString("\r\n")
	b.Write(rec.ResponseBody)
	writeRawEdit(&b, rec)
	return b.String()
}

// writeRawEdit appends what an intercept edit forwarded instead.
func writeRawEdit(b *strings.Builder, rec types.TrafficRecord) {
	e := rec.Edited
	if !e.RequestEdited() && !e.ResponseEdited() {
		return
	}
	b.WriteString("\r\n\r\n=== edited before forwarding ===\r\n")
	if e.RequestEdited() {
		method, target := rec.Method, rec.URL
		if e.Method != "" {
			method = e.Method
		}
		if e.URL != "" {
			target = e.URL
		}
		fmt.Fprintf(b, "%s %s\r\n", method, target)
		writeHeaders(b, e.RequestHeaders)
		b.WriteString("\r\n")
		b.Write(e.RequestBody)
		b.WriteString("\r\n")
	}
	if e.ResponseEdited() {
		code := rec.StatusCode
		if e.StatusCode != 0 {
			code = e.StatusCode
		}
		fmt.Fprintf(b, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
		writeHeaders(b, e.ResponseHeaders)
		b.WriteString("\r\n")
		b.Write(e.ResponseBody)
	}
}

func writeHeaders(b *strings.Builder, h types.Headers) {
	for _, kv := range h {
		fmt.Fprintf(b, "%s: %s\r\n", kv.Name, kv.Value)
	}
}

// RenderPretty formats both bodies for reading: content encodings are
// decoded, JSON is indented, forms are split per field. Decoded bodies are
// bounded by DefaultMaxDecodedBytes.
func RenderPretty(rec types.TrafficRecord) string {
	return renderPretty(rec, DefaultMaxDecodedBytes)
}

func renderPretty(rec types.TrafficRecord, maxDecoded int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", rec.Method, rec.URL)
	if rec.StatusCode != 0 {
		fmt.Fprintf(&b, "Status: %d %s  (%d ms, %d bytes)\n", rec.StatusCode, http.StatusText(rec.StatusCode), rec.ResponseTimeMs, rec.ResponseSizeBytes)
	}
	b.WriteString("\n--- request body ---\n")
	b.WriteString(prettyBody(rec.RequestBody, rec.RequestHeaders, maxDecoded))
	b.WriteString("\n--- response body ---\n")
	b.WriteString(prettyBody(rec.ResponseBody, rec.ResponseHeaders, maxDecoded))

	if e := rec.Edited; e.RequestEdited() || e.ResponseEdited() {
		b.WriteString("\n--- edited ---\n")
		if e.Method != "" {
			fmt.Fprintf(&b, "method: %s -> %s\n", rec.Method, e.Method)
		}
		if e.URL != "" {
			fmt.Fprintf(&b, "url: %s\n", e.URL)
		}
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, "status: %d -> %d\n", rec.StatusCode, e.StatusCode)
		}
		if e.RequestHeaders != nil || e.RequestBody != nil {
			b.WriteString("request body:\n")
			b.WriteString(prettyBody(e.RequestBody, pick(e.RequestHeaders, rec.RequestHeaders), maxDecoded))
		}
		if e.ResponseHeaders != nil || e.ResponseBody != nil {
			b.WriteString("response body:\n")
			b.WriteString(prettyBody(e.ResponseBody, pick(e.ResponseHeaders, rec.ResponseHeaders), maxDecoded))
		}
	}
	return b.String()
}

func pick(edited, captured types.Headers) types.Headers {
	if edited != nil {
		return edited
	}
	return captured
}

func prettyBody(body []byte, h types.Headers, maxDecoded int) string {
	if len(body) == 0 {
		return "(empty)\n"
	}
	decoded, err := DecompressLimit(body, h.Get("Content-Encoding"), maxDecoded)
	if errors.Is(err, ErrDecodedTooLarge) || len(decoded) > maxDecoded {
		return fmt.Sprintf("(decoded body exceeds %d bytes; see hex)\n", maxDecoded)
	}
	if err != nil {
		return fmt.Sprintf("(could not decode %s body: %v)\n", h.Get("Content-Encoding"), err)
	}

	ct := h.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(decoded)
	}
	mediaType, _, _ := mime.ParseMediaType(ct)

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || looksLikeJSON(decoded):
		var out bytes.Buffer
		if err := json.Indent(&out, decoded, "", "  "); err == nil {
			out.WriteByte('\n')
			return out.String()
		}
	case mediaType == "application/x-www-form-urlencoded":
		if values, err := url.ParseQuery(string(decoded)); err == nil {
			var out strings.Builder
			for _, pair := range strings.Split(string(decoded), "&") {
				name, _, _ := strings.Cut(pair, "=")
				name, _ = url.QueryUnescape(name)
				fmt.Fprintf(&out, "%s = %s\n", name, values.Get(name))
			}
			return out.String()
		}
	}

	if !utf8.Valid(decoded) {
		return fmt.Sprintf("(binary %s, %d bytes; see hex)\n", mediaType, len(decoded))
	}
	s := string(decoded)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}

func looksLikeJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 1 && (t[0] == '{' || t[0] == '[') && json.Valid(t)
}

// RenderHex dumps both bodies in canonical hex+ASCII form.
func RenderHex(rec types.TrafficRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "request body (%d bytes)\n", len(rec.RequestBody))
	b.WriteString(hex.Dump(rec.RequestBody))
	fmt.Fprintf(&b, "\nresponse body (%d bytes)\n", len(rec.ResponseBody))
	b.WriteString(hex.Dump(rec.ResponseBody))
	return b.String()
}

// Decompress undoes a Content-Encoding with the default output bound.
func Decompress(body []byte, contentEncoding string) ([]byte, error) {
	return DecompressLimit(body, contentEncoding, DefaultMaxDecodedBytes)
}

// DecompressLimit undoes a Content-Encoding, reading at most limit decoded
// bytes per stage. Unknown or empty encodings return the body unchanged.
func DecompressLimit(body []byte, contentEncoding string, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxDecodedBytes
	}
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	if len(body) == 0 || enc == "" || enc == "identity" {
		return body, nil
	}
	// Stacked encodings are applied left to right, so undo them right to left.
	parts := strings.Split(enc, ",")
	out := body
	for i := len(parts) - 1; i >= 0; i-- {
		var err error
		out, err = decompressOne(out, strings.TrimSpace(parts[i]), limit)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decompressOne(data []byte, enc string, limit int) ([]byte, error) {
	var r io.Reader
	switch enc {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("history: gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		// Servers send both zlib-wrapped and raw deflate under this name.
		if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(data))
			defer fr.Close()
			r = fr
		}
	case "br", "brotli":
		r = brotli.NewReader(bytes.NewReader(data))
	default:
		return data, nil
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("history: decompress %s: %w", enc, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("history: decompress %s: %w (%d bytes)", enc, ErrDecodedTooLarge, limit)
	}
	return out, nil
}
