package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// createdAtTemplate is the placeholder authors leave in alert templates; it
// is treated the same as "now".
const createdAtTemplate = "YYYY-MM-DD HH:mm:ss"

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// Validate checks that the payload carries the required keys and a usable
// creation timestamp.
func (a *Alert) Validate() error {
	for _, key := range []string{KeyMessage, KeyCreatedAt} {
		if v, ok := a.Payload[key]; !ok || v == nil {
			return NewAppErrorWithDetails(ErrCodeValidationMissingField,
				fmt.Sprintf("missing required field %q", key), nil, map[string]any{"field": key})
		}
	}
	if _, ok := a.Payload[KeyMessage].(string); !ok {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidField,
			"message must be a string", nil, map[string]any{"field": KeyMessage})
	}
	if _, err := ParseCreatedAt(a.Payload[KeyCreatedAt], time.Time{}); err != nil {
		return err
	}
	return nil
}

// ParseCreatedAt resolves a created_at value. The sentinels "now", "",
// 0 and the template placeholder resolve to now.
func ParseCreatedAt(v any, now time.Time) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return now, nil
	case time.Time:
		return t.UTC(), nil
	case int:
		if t == 0 {
			return now, nil
		}
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		if t == 0 {
			return now, nil
		}
		return time.Unix(t, 0).UTC(), nil
	case float64:
		if t == 0 {
			return now, nil
		}
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "0" || strings.EqualFold(s, "now") || s == createdAtTemplate {
			return now, nil
		}
		for _, layout := range createdAtLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, NewAppErrorWithDetails(ErrCodeValidationInvalidField,
			fmt.Sprintf("unrecognized created_at %q", s), nil, map[string]any{"field": KeyCreatedAt})
	default:
		return time.Time{}, NewAppErrorWithDetails(ErrCodeValidationInvalidField,
			fmt.Sprintf("unsupported created_at type %T", v), nil, map[string]any{"field": KeyCreatedAt})
	}
}

// Message returns the free-text body, or "" when absent.
func (a *Alert) Message() string {
	return a.StringField(KeyMessage)
}

// Host returns the reporting host, or "".
func (a *Alert) Host() string {
	return a.StringField(KeyHost)
}

// SiteID returns the host site identifier, or "".
func (a *Alert) SiteID() string {
	return a.StringField(KeySiteID)
}

// SensorID returns the host sensor identifier, or "".
func (a *Alert) SensorID() string {
	return a.StringField(KeySensorID)
}

// Tags returns the alert's tags, accepting a list or a comma separated string.
func (a *Alert) Tags() []string {
	return a.ListField(KeyTags)
}

// TargetChannels returns the requested channels.
func (a *Alert) TargetChannels() []string {
	return a.ListField(KeyTargetChannels)
}

// StringField renders a scalar payload value as text. Numeric identifiers
// are common in hand-written alert files.
func (a *Alert) StringField(key string) string {
	switch v := a.Payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// ListField returns a sequence payload value as trimmed, non-empty strings.
func (a *Alert) ListField(key string) []string {
	var raw []string
	switch v := a.Payload[key].(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
