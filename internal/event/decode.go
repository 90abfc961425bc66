package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed marks a record that could not be decoded into a RawEvent.
var ErrMalformed = errors.New("malformed event")

// Decode parses one JSON record. Both bare event objects and event-store
// documents of the form {topic, payload, timestamp} are accepted.
func Decode(data []byte) (RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return RawEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return RawEvent{}, fmt.Errorf("%w: empty record", ErrMalformed)
	}
	return FromMap(doc)
}

// FromMap converts an already-decoded JSON object into a RawEvent.
func FromMap(doc map[string]any) (RawEvent, error) {
	body := doc
	if p, ok := doc["payload"].(map[string]any); ok {
		body = p
	}
	ev := RawEvent{
		Topic:         String(doc, "topic"),
		ID:            String(body, "event_id", "id"),
		CorrelationID: String(body, "correlation_id"),
		SectorID:      String(body, "sector_id"),
		Summary:       String(body, "summary", "message"),
		Severity:      ParseSeverity(String(body, "severity")),
		Payload:       body,
	}
	if ev.Topic == "" {
		ev.Topic = String(body, "topic")
	}
	if ev.Topic == "" {
		return RawEvent{}, fmt.Errorf("%w: missing topic", ErrMalformed)
	}
	if d, ok := body["details"]; ok && d != nil {
		m, ok := d.(map[string]any)
		if !ok {
			return RawEvent{}, fmt.Errorf("%w: details is %T", ErrMalformed, d)
		}
		ev.Details = m
	}
	for _, src := range []map[string]any{body, doc} {
		if ts, ok := parseTimeValue(src["timestamp"]); ok {
			ev.Timestamp = ts
			break
		}
	}
	if ev.Timestamp.IsZero() {
		if ts, ok := parseTimeValue(doc["logged_at"]); ok {
			ev.Timestamp = ts
		}
	}
	return ev, nil
}

// String returns the first non-empty string stored under one of keys.
func String(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// Float returns the first numeric value stored under one of keys. Numeric
// strings are accepted.
func Float(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := Number(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Map returns the first nested object stored under one of keys.
func Map(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if sub, ok := m[k].(map[string]any); ok {
			return sub
		}
	}
	return nil
}

// Number converts a decoded JSON scalar to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimeValue handles RFC 3339 strings (zone optional, UTC assumed) and
// epoch seconds or milliseconds.
func parseTimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), true
		}
	default:
		if f, ok := Number(v); ok && f > 0 {
			return epoch(f), true
		}
	}
	return time.Time{}, false
}

func epoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}
