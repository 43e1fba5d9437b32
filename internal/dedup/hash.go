package dedup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"alertstream/internal/types"
)

// ContentHash returns the hex SHA-256 of the payload's canonical encoding
// with created_at removed. Canonical means JSON with keys sorted at every
// depth and no insignificant whitespace, so key order and formatting in the
// authored file do not change the hash.
func ContentHash(payload map[string]any) (string, error) {
	normalized, err := normalize(payload)
	if err != nil {
		return "", err
	}
	m, _ := normalized.(map[string]any)
	delete(m, types.KeyCreatedAt)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}

// normalize deep-copies v into JSON-encodable values. encoding/json sorts
// map keys, which gives the stable ordering.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalizeValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload must be a mapping, got %T", v)
	}
}

func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return normalize(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalizeValue(val)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalizeValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case float64:
		// -0 does not survive a YAML round trip.
		if t == 0 {
			return float64(0), nil
		}
		return t, nil
	default:
		return t, nil
	}
}
