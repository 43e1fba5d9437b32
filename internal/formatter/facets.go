package formatter

import (
	"regexp"
	"sort"
	"strings"

	"alertstream/internal/types"
)

var (
	linkPattern    = regexp.MustCompile(`https?://[^\s<>"]+`)
	tagPattern     = regexp.MustCompile(`(?:^|\s)(#[\p{L}\p{N}_]+)`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)(@[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)+)`)
)

// DetectFacets returns link, hashtag and mention spans in text as UTF-8 byte
// offsets, ordered by start.
func DetectFacets(text string) []types.Facet {
	facets := make([]types.Facet, 0)

	for _, m := range linkPattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		// Sentence punctuation after a URL is not part of it.
		for end > start && strings.ContainsRune(".,;:!?)]'", rune(text[end-1])) {
			end--
		}
		facets = append(facets, types.Facet{
			Type:      types.FacetLink,
			ByteStart: start,
			ByteEnd:   end,
			Value:     text[start:end],
		})
	}

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		tag := text[start+1 : end]
		if isDigits(tag) || insideLink(facets, start) {
			continue
		}
		facets = append(facets, types.Facet{
			Type:      types.FacetTag,
			ByteStart: start,
			ByteEnd:   end,
			Value:     tag,
		})
	}

	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if insideLink(facets, start) {
			continue
		}
		facets = append(facets, types.Facet{
			Type:      types.FacetMention,
			ByteStart: start,
			ByteEnd:   end,
			Value:     text[start+1 : end],
		})
	}

	sort.SliceStable(facets, func(i, j int) bool {
		return facets[i].ByteStart < facets[j].ByteStart
	})
	return facets
}

func insideLink(facets []types.Facet, pos int) bool {
	for _, f := range facets {
		if f.Type == types.FacetLink && pos >= f.ByteStart && pos < f.ByteEnd {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
