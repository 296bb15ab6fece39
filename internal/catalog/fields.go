package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type item map[string]any

// str returns the first non-empty value among keys, rendered as a string.
func (m item) str(keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// flag reports whether any of keys holds a truthy value (true, 1, "1", "true", "yes").
func (m item) flag(keys ...string) bool {
	for _, key := range keys {
		switch v := m[key].(type) {
		case bool:
			if v {
				return true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil && n != 0 {
				return true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes":
				return true
			}
		}
	}
	return false
}

func (m item) list(key string) []item {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]item, 0, len(raw))
	for _, entry := range raw {
		if obj, ok := entry.(map[string]any); ok {
			out = append(out, item(obj))
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// decodeList accepts a bare JSON list or an object wrapping it in "data".
func decodeList(body []byte) ([]item, error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	switch v := root.(type) {
	case []any:
		return toItems(v), nil
	case map[string]any:
		switch data := v["data"].(type) {
		case []any:
			return toItems(data), nil
		case nil:
			return nil, nil
		case map[string]any:
			// Some listings nest the list one level deeper.
			for _, key := range []string{"list", "items", "data"} {
				if nested, ok := data[key].([]any); ok {
					return toItems(nested), nil
				}
			}
			return nil, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected json shape %T", root)
}

// decodeObject accepts an object, optionally wrapped in "data".
func decodeObject(body []byte) (item, error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	switch v := root.(type) {
	case map[string]any:
		switch data := v["data"].(type) {
		case map[string]any:
			return item(data), nil
		case []any:
			if items := toItems(data); len(items) > 0 {
				return items[0], nil
			}
			return item{}, nil
		}
		return item(v), nil
	case []any:
		if items := toItems(v); len(items) > 0 {
			return items[0], nil
		}
		return item{}, nil
	}
	return nil, fmt.Errorf("unexpected json shape %T", root)
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return root, nil
}

func toItems(raw []any) []item {
	out := make([]item, 0, len(raw))
	for _, entry := range raw {
		if obj, ok := entry.(map[string]any); ok {
			out = append(out, item(obj))
		}
	}
	return out
}

var timestampKeys = []string{"strtotime", "created_at", "createdAt", "startDate", "start_date", "date"}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02",
}

// timestamp returns the best-effort creation time of m, or nil when none parses.
func (m item) timestamp(loc *time.Location) *time.Time {
	for _, key := range timestampKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if t, ok := parseTimestamp(v, loc); ok {
			return &t
		}
	}
	return nil
}

func parseTimestamp(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}

	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return fromEpoch(f)
		}
	case float64:
		return fromEpoch(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	return time.Unix(int64(f), 0), true
}
