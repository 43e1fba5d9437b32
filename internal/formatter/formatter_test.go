package formatter

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/types"
)

var testNow = time.Date(2026, 4, 2, 9, 30, 15, 0, time.UTC)

func newAlert(payload map[string]any) *types.Alert {
	created, _ := types.ParseCreatedAt(payload["created_at"], testNow)
	return &types.Alert{ID: "alert_test", Payload: payload, CreatedAt: created}
}

func TestFormat_RainDetected(t *testing.T) {
	f := New(Options{MaxChars: 300})
	msg := f.Format(newAlert(map[string]any{
		"message":    "Rain detected",
		"created_at": "now",
		"host":       "node-1",
		"tags":       []any{"Rain"},
	}), testNow)

	assert.Contains(t, msg.Text, "Rain detected")
	assert.Contains(t, msg.Text, "#Rain")
	assert.Contains(t, msg.Text, "Posted at 2026-04-02 09:30:15 UTC")
	assert.Contains(t, msg.Text, "Generated by: node-1 at 2026-04-02 09:30:15 UTC")
	assert.LessOrEqual(t, utf8.RuneCountInString(msg.Text), 300)
	assert.False(t, msg.Truncated)
	assert.False(t, msg.SuffixDropped)

	require.Len(t, msg.Facets, 1)
	tag := msg.Facets[0]
	assert.Equal(t, types.FacetTag, tag.Type)
	assert.Equal(t, "Rain", tag.Value)
	assert.Equal(t, "#Rain", msg.Text[tag.ByteStart:tag.ByteEnd])
}

func TestFormat_ExactLayout(t *testing.T) {
	f := New(Options{MaxChars: 300, Tags: []string{"Weather"}})
	msg := f.Format(newAlert(map[string]any{
		"message":        "Wind gust 80 km/h",
		"created_at":     "2026-04-02 09:00:00",
		"host":           "station-7",
		"host_site_id":   12,
		"host_sensor_id": "anemometer",
	}), testNow)

	want := "Wind gust 80 km/h\n\n" +
		"Generated by: station-7 at 2026-04-02 09:00:00 UTC\n(Site ID: 12, Sensor ID: anemometer)\n\n" +
		"#Weather\n\n" +
		"Posted at 2026-04-02 09:30:15 UTC"
	assert.Equal(t, want, msg.Text)
}

func TestFormat_PlaceholderBody(t *testing.T) {
	f := New(Options{})
	msg := f.Format(newAlert(map[string]any{"message": "   ", "created_at": "now"}), testNow)

	assert.True(t, strings.HasPrefix(msg.Text, PlaceholderBody))
	assert.Equal(t, DefaultMaxChars, f.MaxChars())
}

func TestFormat_FallsBackToShortDetail(t *testing.T) {
	f := New(Options{MaxChars: 120})
	body := strings.Repeat("a", 40)
	msg := f.Format(newAlert(map[string]any{
		"message":        body,
		"created_at":     "now",
		"host":           "node-1",
		"host_site_id":   "site-1",
		"host_sensor_id": "sensor-1",
	}), testNow)

	assert.Contains(t, msg.Text, "Generated by: node-1\n\n")
	assert.NotContains(t, msg.Text, "Site ID")
	assert.Contains(t, msg.Text, "Posted at 2026-04-02 09:30:15 UTC")
	assert.False(t, msg.Truncated)
}

func TestFormat_FallsBackToShortSuffix(t *testing.T) {
	// body(60) + sep + "Generated by: node-1"(20) + sep + long suffix(33) = 117
	f := New(Options{MaxChars: 110})
	msg := f.Format(newAlert(map[string]any{
		"message":    strings.Repeat("b", 60),
		"created_at": "now",
		"host":       "node-1",
	}), testNow)

	assert.True(t, strings.HasSuffix(msg.Text, "Posted at 2026-04-02"))
	assert.False(t, msg.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(msg.Text), 110)
}

func TestFormat_TruncatesBodyKeepsSuffix(t *testing.T) {
	f := New(Options{MaxChars: 300, Tags: []string{"Alert"}})
	msg := f.Format(newAlert(map[string]any{
		"message":    strings.Repeat("word ", 200),
		"created_at": "now",
		"host":       "node-1",
	}), testNow)

	assert.True(t, msg.Truncated)
	assert.False(t, msg.SuffixDropped)
	assert.LessOrEqual(t, utf8.RuneCountInString(msg.Text), 300)
	assert.True(t, strings.HasSuffix(msg.Text, "Posted at 2026-04-02"))
	assert.Contains(t, msg.Text, "...\n\nGenerated by: node-1\n\n#Alert\n\n")
}

func TestFormat_LengthInvariant(t *testing.T) {
	bodies := []string{
		"",
		"short",
		strings.Repeat("x", 299),
		strings.Repeat("y", 300),
		strings.Repeat("z", 5000),
		strings.Repeat("🌧️ storm ", 80),
		strings.Repeat("長い警報メッセージ", 60),
	}
	tags := [][]string{nil, {"Rain"}, {"A", "B", "C", "Severe", "Weather", "Flood", "Warning"}}

	for _, max := range []int{40, 100, 300} {
		f := New(Options{MaxChars: max, Tags: []string{"Feed"}})
		for _, body := range bodies {
			for _, tg := range tags {
				msg := f.Format(newAlert(map[string]any{
					"message":        body,
					"created_at":     "now",
					"host":           "a-rather-long-hostname.example.internal",
					"host_site_id":   "site-with-long-id",
					"host_sensor_id": "sensor-with-long-id",
					"tags":           tg,
				}), testNow)
				n := utf8.RuneCountInString(msg.Text)
				assert.LessOrEqual(t, n, max, "max=%d body=%d runes", max, utf8.RuneCountInString(body))
				assert.True(t, utf8.ValidString(msg.Text))
				if !msg.SuffixDropped {
					assert.Contains(t, msg.Text, "Posted at 2026-04-02")
				}
			}
		}
	}
}

func TestFormat_SuffixDroppedWhenCeilingTiny(t *testing.T) {
	f := New(Options{MaxChars: 15})
	msg := f.Format(newAlert(map[string]any{"message": "A fairly long alert body", "created_at": "now"}), testNow)

	assert.True(t, msg.SuffixDropped)
	assert.True(t, msg.Truncated)
	assert.Equal(t, "A fairly lon...", msg.Text)
}

func TestFormat_Pure(t *testing.T) {
	f := New(Options{MaxChars: 300, Tags: []string{"Rain"}})
	alert := newAlert(map[string]any{"message": "Rain detected", "created_at": "now", "tags": []any{"rain"}})

	first := f.Format(alert, testNow)
	second := f.Format(alert, testNow)
	assert.Equal(t, first, second)
	assert.Equal(t, []any{"rain"}, alert.Payload["tags"])
}

func TestTagLine(t *testing.T) {
	assert.Equal(t, "#Rain #Severe #FloodWatch", TagLine([]string{"Rain", " #Severe "}, []string{"rain", "Flood Watch", ""}))
	assert.Equal(t, "", TagLine(nil, nil))
}

func TestDetectFacets(t *testing.T) {
	text := "Storm cell near #Denver, see https://radar.example.com/loop?x=1. cc @ops.example.net #2024 #Hail_Warning"
	facets := DetectFacets(text)

	require.Len(t, facets, 4)

	assert.Equal(t, types.FacetTag, facets[0].Type)
	assert.Equal(t, "Denver", facets[0].Value)

	assert.Equal(t, types.FacetLink, facets[1].Type)
	assert.Equal(t, "https://radar.example.com/loop?x=1", text[facets[1].ByteStart:facets[1].ByteEnd])

	assert.Equal(t, types.FacetMention, facets[2].Type)
	assert.Equal(t, "ops.example.net", facets[2].Value)

	assert.Equal(t, "Hail_Warning", facets[3].Value)
	for _, f := range facets {
		assert.Less(t, f.ByteStart, f.ByteEnd)
		assert.LessOrEqual(t, f.ByteEnd, len(text))
	}
}

func TestDetectFacets_MultibyteOffsets(t *testing.T) {
	text := "🌧️ Lluvia intensa #Tormenta"
	facets := DetectFacets(text)

	require.Len(t, facets, 1)
	assert.Equal(t, "#Tormenta", text[facets[0].ByteStart:facets[0].ByteEnd])
	assert.Greater(t, facets[0].ByteStart, utf8.RuneCountInString("🌧️ Lluvia intensa "))
}

func TestDetectFacets_NoFacets(t *testing.T) {
	facets := DetectFacets("plain text without annotations")
	assert.NotNil(t, facets)
	assert.Empty(t, facets)
}
