package webhook

import (
	"context"
)

// Platform identifies a webhook destination platform.
type Platform string

const (
	// PlatformGeneric is the default platform for unknown webhook URLs.
	PlatformGeneric Platform = "generic"

	PlatformSlack      Platform = "slack"
	PlatformDiscord    Platform = "discord"
	PlatformTeams      Platform = "teams"
	PlatformGoogleChat Platform = "google_chat"
)

// PlatformFormatter renders a Message into platform-specific JSON.
type PlatformFormatter interface {
	Format(ctx context.Context, m *Message) ([]byte, error)

	// Platform returns the enum identifier for logs.
	Platform() Platform

	// ValidateResponse interprets the HTTP response body to catch "soft failures"
	// (e.g., Slack returning HTTP 200 with "ok": false).
	ValidateResponse(statusCode int, body []byte) error
}

// --- Slack (Block Kit) ---

type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackBlock struct {
	Type     string       `json:"type"`
	Text     *SlackText   `json:"text,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// --- Microsoft Teams (Adaptive Cards) ---

type TeamsPayload struct {
	Type        string            `json:"type"`
	Attachments []TeamsAttachment `json:"attachments"`
}

type TeamsAttachment struct {
	ContentType string       `json:"contentType"`
	Content     AdaptiveCard `json:"content"`
}

type AdaptiveCard struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Body    []AdaptiveItem `json:"body"`
}

type AdaptiveItem struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

// --- Discord (Embeds) ---

type DiscordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content"`
	Embeds   []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

type DiscordFooter struct {
	Text string `json:"text"`
}

// --- Google Chat ---

// GoogleChatPayload uses the simple text message form; Chat renders links
// and line breaks itself.
type GoogleChatPayload struct {
	Text string `json:"text"`
}
