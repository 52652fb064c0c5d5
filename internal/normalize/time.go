package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ISOLayout is the canonical timestamp rendering, millisecond precision in UTC.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Epoch values above this are milliseconds, below are seconds.
const epochMillisThreshold = 1e12

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Nested objects hold the instant under one of these keys.
var nestedTimeKeys = []string{"dateTime", "datetime", "date", "value", "timestamp"}

// Time returns the first alias that coalesces to an instant.
func (p Payload) Time(aliases ...string) *time.Time {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		if t, ok := CoalesceTime(v); ok {
			return &t
		}
	}
	return nil
}

// CoalesceTime accepts an epoch number (seconds or milliseconds), a numeric
// or ISO-8601 string, or an object wrapping one of those.
func CoalesceTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return val.UTC(), !val.IsZero()
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(val)
	case int64:
		return fromEpoch(float64(val))
	case int:
		return fromEpoch(float64(val))
	case string:
		return parseTimeString(val)
	case map[string]any:
		for _, k := range nestedTimeKeys {
			if inner, ok := val[k]; ok {
				if t, ok := CoalesceTime(inner); ok {
					return t, true
				}
			}
		}
		return time.Time{}, false
	case Payload:
		return CoalesceTime(map[string]any(val))
	default:
		return time.Time{}, false
	}
}

// ISO renders t in ISOLayout.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Truncate(time.Millisecond), true
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
