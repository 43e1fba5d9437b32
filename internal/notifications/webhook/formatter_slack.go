package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SlackFormatter formats messages as Slack Block Kit JSON.
type SlackFormatter struct{}

func (f *SlackFormatter) Platform() Platform {
	return PlatformSlack
}

// Format renders a header block for the title, a mrkdwn section for the body
// and a context footer listing tags and attachments.
func (f *SlackFormatter) Format(_ context.Context, m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("slack formatter: message is nil")
	}

	payload := SlackPayload{
		Text: m.Title,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: m.Title}},
		},
	}
	if m.Body != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: slackEscape(m.Body)},
		})
	}
	if footer := footerLine(m); footer != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type:     "context",
			Elements: []*SlackText{{Type: "mrkdwn", Text: footer}},
		})
	}

	return json.Marshal(payload)
}

// ValidateResponse checks for Slack's "soft failure" pattern where the API
// returns HTTP 200 but the body indicates an error.
func (f *SlackFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d", statusCode)
	}

	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "ok" || bodyStr == "" {
		return nil
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.OK != nil && !*resp.OK {
		if resp.Error == "" {
			resp.Error = "unknown error"
		}
		return fmt.Errorf("slack: API error: %s", resp.Error)
	}

	switch bodyStr {
	case "no_text", "channel_not_found", "channel_is_archived", "invalid_payload", "too_many_attachments":
		return fmt.Errorf("slack: API error: %s", bodyStr)
	}
	return nil
}

// slackEscape escapes the three characters mrkdwn treats as control text.
func slackEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func footerLine(m *Message) string {
	var parts []string
	if len(m.Tags) > 0 {
		parts = append(parts, strings.Join(m.Tags, " "))
	}
	if n := len(m.Attachments); n > 0 {
		parts = append(parts, fmt.Sprintf("%d attachment(s) not forwarded", n))
	}
	return strings.Join(parts, " | ")
}
