// Package meta holds helpers for content metadata values.
//
// Metadata is decoded JSON: map[string]any, []any, string, json.Number,
// bool or nil. Objects may hold link markers ({"/": "<link>"}) that point at
// metadata elsewhere in the same or another content object.
package meta

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// Value is a decoded metadata value.
type Value = any

// Decode reads one JSON value, keeping numbers as json.Number.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v Value
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(data []byte) (Value, error) {
	return Decode(bytes.NewReader(data))
}

// AsObject returns v as an object.
func AsObject(v Value) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// SortedKeys returns the keys of m in lexicographic order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup reports the value under key when v is an object.
func Lookup(v Value, key string) (Value, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	x, ok := m[key]
	return x, ok
}

// Navigate follows a slash separated subpath ("public/asset_metadata") from v.
// An empty subpath returns v itself. A leading "/" or "meta/" is ignored.
func Navigate(v Value, subpath string) (Value, bool) {
	cur := v
	for _, c := range SplitSubpath(subpath) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[c]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// SplitSubpath returns the non-empty components of a metadata subpath.
func SplitSubpath(subpath string) []string {
	p := strings.TrimPrefix(subpath, "/")
	p = strings.TrimPrefix(p, "meta/")
	if p == "meta" {
		p = ""
	}
	return components(p)
}

func components(p string) []string {
	var out []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Kind names the JSON kind of v for error messages.
func Kind(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int64, uint64:
		return "number"
	default:
		return "unknown"
	}
}
