package webhook

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	colorAlert     = 0xFF9800
	colorTruncated = 0xF44336

	discordUsername = "AlertStream"
)

// DiscordFormatter formats messages as Discord webhook JSON with one embed.
type DiscordFormatter struct{}

func (f *DiscordFormatter) Platform() Platform {
	return PlatformDiscord
}

func (f *DiscordFormatter) Format(_ context.Context, m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("discord formatter: message is nil")
	}

	color := colorAlert
	if m.Truncated {
		color = colorTruncated
	}
	embed := DiscordEmbed{
		Title:       m.Title,
		Description: m.Body,
		Color:       color,
	}
	if footer := footerLine(m); footer != "" {
		embed.Footer = &DiscordFooter{Text: footer}
	}

	return json.Marshal(DiscordPayload{
		Username: discordUsername,
		Content:  m.Title,
		Embeds:   []DiscordEmbed{embed},
	})
}

// ValidateResponse accepts any 2xx; Discord answers 204 No Content.
func (f *DiscordFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return fmt.Errorf("discord: API error: %s", resp.Message)
	}
	return fmt.Errorf("discord: unexpected status %d: %s", statusCode, truncateBody(body))
}
