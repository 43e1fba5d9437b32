package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GenericFormatter outputs a stable JSON envelope for endpoints that do not
// match any known platform.
type GenericFormatter struct{}

func (f *GenericFormatter) Platform() Platform {
	return PlatformGeneric
}

// GenericPayload is the standard webhook payload envelope for generic endpoints.
type GenericPayload struct {
	Event       string           `json:"event"`
	Title       string           `json:"title"`
	Text        string           `json:"text"`
	Links       []string         `json:"links,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
	Truncated   bool             `json:"truncated"`
	SentAt      string           `json:"sent_at"`
}

// EventAlert is the event name carried by generic payloads and the event
// header.
const EventAlert = "alert.posted"

func (f *GenericFormatter) Format(_ context.Context, m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("generic formatter: message is nil")
	}
	return json.Marshal(GenericPayload{
		Event:       EventAlert,
		Title:       m.Title,
		Text:        m.Text,
		Links:       m.Links,
		Tags:        m.Tags,
		Attachments: m.Attachments,
		Truncated:   m.Truncated,
		SentAt:      m.SentAt.Format(time.RFC3339),
	})
}

// ValidateResponse for generic webhooks simply checks the HTTP status code.
func (f *GenericFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("generic webhook: unexpected status %d: %s", statusCode, truncateBody(body))
}
