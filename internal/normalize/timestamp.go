package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampKeys are tried in order when looking for the event time.
var TimestampKeys = []string{"timestamp", "created_at", "createdAt", "date", "time", "occurredAt", "occurred_at"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700", // Salesforce
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Seconds stay below it until the year 33658.
const epochMillisThreshold = 1e12

// maxEpochMillis is 9999-12-31T23:59:59.999Z, the last instant the store's
// timestamp columns and RFC 3339 can represent.
const maxEpochMillis = 253402300799999

// ExtractTimestamp returns the first parseable timestamp among TimestampKeys.
// ok is false when no key holds a usable value; callers then fall back to
// ingestion time.
func ExtractTimestamp(raw map[string]any) (t time.Time, ok bool) {
	for _, k := range TimestampKeys {
		if t, ok := ParseTimestamp(raw[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamp interprets v as a timestamp. It accepts time.Time, strings
// in the common ISO 8601 and RFC 1123 layouts, and epoch seconds or
// milliseconds as numbers or numeric strings.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case float64:
		return fromEpoch(x)
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || f <= 0 || f > maxEpochMillis {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}
