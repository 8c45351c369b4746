package driver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotTimestamp marks a value that cannot be read as a point in time.
var ErrNotTimestamp = errors.New("not a timestamp")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// String returns the value under key as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the numeric value under key. ok is false when the value is
// absent or not a number.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOr is Float with a default for missing values.
func (r Record) FloatOr(key string, def float64) float64 {
	if f, ok := r.Float(key); ok {
		return f
	}
	return def
}

// FloatPtr returns nil when the value is absent.
func (r Record) FloatPtr(key string) *float64 {
	if f, ok := r.Float(key); ok {
		return &f
	}
	return nil
}

func (r Record) Int(key string) int64 {
	f, _ := r.Float(key)
	return int64(f)
}

// Time decodes temporal values from the driver's native types as well as
// ISO-8601 strings, which is how most ingestion paths store dates.
// Time returns the value under key as a UTC timestamp, or nil when it is
// absent or cannot be read as one. Use TimeValue to tell the two apart.
func (r Record) Time(key string) *time.Time {
	t, _ := r.TimeValue(key)
	return t
}

// TimeValue is Time with a decode error. Absent, null and empty values are
// (nil, nil). Temporal values without a calendar date, such as neo4j
// LocalTime, Time (with offset) and Duration, fail with ErrNotTimestamp.
func (r Record) TimeValue(key string) (*time.Time, error) {
	var t time.Time
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t = *v
	case neo4j.Date:
		t = time.Time(v)
	case neo4j.LocalDateTime:
		t = time.Time(v)
	case neo4j.LocalTime, neo4j.Time, neo4j.Duration:
		return nil, fmt.Errorf("%s: %w: got %T", key, ErrNotTimestamp, v)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parsed, ok := parseTime(v)
		if !ok {
			return nil, fmt.Errorf("%s: %w: cannot parse %q", key, ErrNotTimestamp, v)
		}
		t = parsed
	default:
		return nil, fmt.Errorf("%s: %w: got %T", key, ErrNotTimestamp, v)
	}
	t = t.UTC()
	return &t, nil
}

func (r Record) Strings(key string) []string {
	raw, ok := r[key].([]any)
	if !ok {
		if s, ok := r[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
