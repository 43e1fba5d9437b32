// Package formatter turns an alert payload into the text posted to the feed.
//
// The output is built from up to four parts separated by blank lines:
//
//	<body>
//
//	Generated by: <host> at <created> UTC
//	(Site ID: <site>, Sensor ID: <sensor>)
//
//	#Tag1 #Tag2
//
//	Posted at <YYYY-MM-DD HH:MM:SS> UTC
//
// When the result exceeds the character ceiling, the formatter degrades in a
// fixed order: shorter attribution detail, date-only "Posted at" suffix,
// truncated body, no detail, no tags. The "Posted at" suffix is the last
// thing to go and is only cut when even the date-only form cannot fit.
// Facets are computed on the final text.
package formatter

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"alertstream/internal/types"
)

const (
	// DefaultMaxChars is the feed's per-record character ceiling.
	DefaultMaxChars = 300

	// PlaceholderBody replaces a missing or blank message.
	PlaceholderBody = "No message content available."

	unknownHost  = "Unknown host"
	notAvailable = "N/A"
	ellipsis     = "..."
	separator    = "\n\n"

	longSuffixLayout  = "Posted at 2006-01-02 15:04:05 UTC"
	shortSuffixLayout = "Posted at 2006-01-02"
	createdLayout     = "2006-01-02 15:04:05"

	// minTruncatedBody is the smallest body (ellipsis included) worth keeping.
	minTruncatedBody = 4
)

// Options configures a Formatter.
type Options struct {
	MaxChars int
	// Tags are appended to every message in addition to the alert's own.
	Tags []string
}

// Formatter builds FormattedMessages. It holds no mutable state and is safe
// for concurrent use.
type Formatter struct {
	maxChars int
	tags     []string
}

// New returns a Formatter. A non-positive MaxChars selects DefaultMaxChars.
func New(opts Options) *Formatter {
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Formatter{maxChars: maxChars, tags: opts.Tags}
}

// MaxChars returns the configured ceiling.
func (f *Formatter) MaxChars() int {
	return f.maxChars
}

type layout struct {
	detail string
	tags   string
	suffix string
}

// Format renders alert as it will be posted at now. It never fails: missing
// fields fall back to placeholders.
func (f *Formatter) Format(alert *types.Alert, now time.Time) *types.FormattedMessage {
	body := alert.Message()
	if body == "" {
		body = PlaceholderBody
	}

	fullDetail, shortDetail := detailLines(alert)
	tagLine := TagLine(alert.Tags(), f.tags)
	longSuffix := now.UTC().Format(longSuffixLayout)
	shortSuffix := now.UTC().Format(shortSuffixLayout)

	for _, l := range []layout{
		{fullDetail, tagLine, longSuffix},
		{shortDetail, tagLine, longSuffix},
		{shortDetail, tagLine, shortSuffix},
	} {
		if text := compose(body, l); runeLen(text) <= f.maxChars {
			return finish(text, false, false)
		}
	}

	for _, l := range []layout{
		{shortDetail, tagLine, shortSuffix},
		{"", tagLine, shortSuffix},
		{"", "", shortSuffix},
	} {
		budget := f.maxChars - runeLen(compose("", l)) - len(separator)
		if budget < minTruncatedBody {
			continue
		}
		trimmed, cut := truncate(body, budget)
		return finish(compose(trimmed, l), cut, false)
	}

	// Not even the date-only suffix leaves room for a body.
	trimmed, cut := truncate(body, f.maxChars)
	return finish(trimmed, cut, true)
}

func finish(text string, truncated, suffixDropped bool) *types.FormattedMessage {
	return &types.FormattedMessage{
		Text:          text,
		Facets:        DetectFacets(text),
		Truncated:     truncated,
		SuffixDropped: suffixDropped,
	}
}

// detailLines returns the full and host-only attribution lines, or empty
// strings when the alert names no host.
func detailLines(alert *types.Alert) (full, short string) {
	host := alert.Host()
	if host == "" {
		if alert.SiteID() == "" && alert.SensorID() == "" {
			return "", ""
		}
		host = unknownHost
	}

	short = "Generated by: " + host
	full = short
	if !alert.CreatedAt.IsZero() {
		full = fmt.Sprintf("%s at %s UTC", short, alert.CreatedAt.UTC().Format(createdLayout))
	}
	site, sensor := alert.SiteID(), alert.SensorID()
	if site != "" || sensor != "" {
		full += fmt.Sprintf("\n(Site ID: %s, Sensor ID: %s)", orNA(site), orNA(sensor))
	}
	return full, short
}

// TagLine merges alert and configured tags into "#A #B", dropping empty and
// case-insensitive duplicates while keeping first-seen order.
func TagLine(groups ...[]string) string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range groups {
		for _, tag := range group {
			tag = strings.Join(strings.Fields(strings.TrimLeft(strings.TrimSpace(tag), "#")), "")
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, "#"+tag)
		}
	}
	return strings.Join(out, " ")
}

func compose(body string, l layout) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{body, l.detail, l.tags, l.suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, separator)
}

// truncate shortens s to at most n runes, ending in an ellipsis.
func truncate(s string, n int) (string, bool) {
	if runeLen(s) <= n {
		return s, false
	}
	if n <= len(ellipsis) {
		return string([]rune(s)[:n]), true
	}
	kept := strings.TrimRight(string([]rune(s)[:n-len(ellipsis)]), " \t\n")
	return kept + ellipsis, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
