package webhook

import (
	"strings"
	"time"
	"unicode/utf8"

	"alertstream/internal/types"
)

const maxTitleRunes = 80

// Message is the channel-neutral view the platform formatters render.
type Message struct {
	Title       string
	Body        string
	Text        string
	Links       []string
	Tags        []string
	Attachments []AttachmentInfo
	Truncated   bool
	SentAt      time.Time
}

// AttachmentInfo describes an attachment the webhook cannot carry inline.
type AttachmentInfo struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// NewMessage splits the formatted text into a title (first line) and body,
// and lifts link and tag facets out of the text.
func NewMessage(msg *types.FormattedMessage, attachments []types.Attachment, now time.Time) *Message {
	m := &Message{
		Text:      msg.Text,
		Truncated: msg.Truncated,
		SentAt:    now.UTC(),
	}

	title, body, _ := strings.Cut(msg.Text, "\n")
	m.Title = shorten(strings.TrimSpace(title), maxTitleRunes)
	m.Body = strings.TrimSpace(body)

	for _, f := range msg.Facets {
		switch f.Type {
		case types.FacetLink:
			m.Links = append(m.Links, f.Value)
		case types.FacetTag:
			m.Tags = append(m.Tags, f.Value)
		}
	}
	for _, a := range attachments {
		m.Attachments = append(m.Attachments, AttachmentInfo{Name: a.Name, MimeType: a.MimeType, Size: a.Size()})
	}
	return m
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// truncateBody caps response bodies quoted in errors.
func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
