package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Header is a single name/value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered key→value mapping. Order is preserved from the wire.
type Headers []Header

// Get returns the first value whose name matches case-insensitively.
func (h Headers) Get(name string) string {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

// Map flattens the headers into a map; later duplicates win.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, kv := range h {
		out[kv.Name] = kv.Value
	}
	return out
}

// HeadersFromMap builds Headers from an unordered map, sorted by name so the
// result is deterministic.
func HeadersFromMap(m map[string]string) Headers {
	out := make(Headers, 0, len(m))
	for k, v := range m {
		out = append(out, Header{Name: k, Value: v})
	}
	slices.SortStableFunc(out, func(a, b Header) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// MarshalJSON writes headers as a JSON object, keeping insertion order.
func (h Headers) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a JSON object, an array of {name,value} objects or
// [name, value] pairs, or a string holding either a serialized JSON object or
// raw "Name: value" lines.
func (h *Headers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*h = nil
		return nil
	}
	switch data[0] {
	case '{':
		parsed, err := decodeHeaderObject(data)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	case '[':
		parsed, err := decodeHeaderArray(data)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseSerializedHeaders(s)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	}
	return fmt.Errorf("headers: unsupported json value %q", truncateForError(data))
}

// ParseSerializedHeaders parses headers delivered as a pre-serialized string.
func ParseSerializedHeaders(s string) (Headers, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var out Headers
		if err := out.UnmarshalJSON([]byte(trimmed)); err != nil {
			return nil, err
		}
		return out, nil
	}

	var out Headers
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("headers: malformed line %q", line)
		}
		out = append(out, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out, nil
}

func decodeHeaderObject(data []byte) (Headers, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	out := Headers{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("headers: non-string key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, Header{Name: name, Value: headerValueString(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeHeaderArray(data []byte) (Headers, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make(Headers, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var pair []json.RawMessage
			if err := json.Unmarshal(item, &pair); err != nil {
				return nil, err
			}
			if len(pair) != 2 {
				return nil, fmt.Errorf("headers: pair has %d elements", len(pair))
			}
			out = append(out, Header{Name: headerValueString(pair[0]), Value: headerValueString(pair[1])})
			continue
		}
		var kv Header
		if err := json.Unmarshal(item, &kv); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, nil
}

// headerValueString renders a header value; non-string JSON values keep their
// literal text and arrays are joined with ", ".
func headerValueString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, headerValueString(item))
		}
		return strings.Join(parts, ", ")
	}
	return string(bytes.TrimSpace(raw))
}

func truncateForError(data []byte) string {
	if len(data) > 32 {
		return string(data[:32]) + "..."
	}
	return string(data)
}
