package webhook

import (
	"context"
	"encoding/json"
	"fmt"
)

// TeamsFormatter formats messages as an Adaptive Card for Power Automate
// workflows.
type TeamsFormatter struct{}

func (f *TeamsFormatter) Platform() Platform {
	return PlatformTeams
}

func (f *TeamsFormatter) Format(_ context.Context, m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("teams formatter: message is nil")
	}

	body := []AdaptiveItem{
		{Type: "TextBlock", Text: m.Title, Size: "Large", Weight: "Bolder", Wrap: true},
	}
	if m.Body != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: m.Body, Wrap: true})
	}
	if footer := footerLine(m); footer != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: footer, Size: "Small", Wrap: true})
	}

	return json.Marshal(TeamsPayload{
		Type: "message",
		Attachments: []TeamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				Content: AdaptiveCard{
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	})
}

// ValidateResponse accepts 2xx; workflows answer 202 Accepted.
func (f *TeamsFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("teams: unexpected status %d: %s", statusCode, truncateBody(body))
}

// GoogleChatFormatter sends the full text as a plain Chat message.
type GoogleChatFormatter struct{}

func (f *GoogleChatFormatter) Platform() Platform {
	return PlatformGoogleChat
}

func (f *GoogleChatFormatter) Format(_ context.Context, m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("google chat formatter: message is nil")
	}
	return json.Marshal(GoogleChatPayload{Text: m.Text})
}

func (f *GoogleChatFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("google chat: unexpected status %d: %s", statusCode, truncateBody(body))
}
