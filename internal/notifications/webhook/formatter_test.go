package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/types"
)

func TestNewMessage_SplitsTitleAndFacets(t *testing.T) {
	msg := &types.FormattedMessage{
		Text: "Flood warning https://example.com/x\n\nGenerated by: node-1",
		Facets: []types.Facet{
			{Type: types.FacetLink, Value: "https://example.com/x"},
			{Type: types.FacetMention, Value: "ops.example"},
		},
		Truncated: true,
	}
	m := NewMessage(msg, nil, testNow)

	assert.Equal(t, "Flood warning https://example.com/x", m.Title)
	assert.Equal(t, "Generated by: node-1", m.Body)
	assert.Equal(t, []string{"https://example.com/x"}, m.Links)
	assert.Empty(t, m.Tags)
	assert.True(t, m.Truncated)
}

func TestNewMessage_LongTitleShortened(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	m := NewMessage(&types.FormattedMessage{Text: long}, nil, testNow)
	assert.Len(t, []rune(m.Title), maxTitleRunes)
	assert.Equal(t, "...", string([]rune(m.Title)[maxTitleRunes-3:]))
}

func TestFormatters_ProduceValidJSON(t *testing.T) {
	m := NewMessage(testMessage(), []types.Attachment{{Name: "a.png", Data: []byte{1}}}, testNow)

	for _, f := range NewPlatformRegistry().formatters {
		t.Run(string(f.Platform()), func(t *testing.T) {
			out, err := f.Format(context.Background(), m)
			require.NoError(t, err)
			assert.True(t, json.Valid(out))
			assert.Contains(t, string(out), "Rain detected")

			_, err = f.Format(context.Background(), nil)
			assert.Error(t, err)
		})
	}
}

func TestSlackFormatter_Blocks(t *testing.T) {
	out, err := (&SlackFormatter{}).Format(context.Background(), NewMessage(testMessage(), nil, testNow))
	require.NoError(t, err)

	var p SlackPayload
	require.NoError(t, json.Unmarshal(out, &p))
	require.Len(t, p.Blocks, 3)
	assert.Equal(t, "header", p.Blocks[0].Type)
	assert.Equal(t, "section", p.Blocks[1].Type)
	assert.Equal(t, "context", p.Blocks[2].Type)
	assert.Equal(t, "Rain Weather", p.Blocks[2].Elements[0].Text)
}

func TestSlackFormatter_ValidateResponse(t *testing.T) {
	f := &SlackFormatter{}
	assert.NoError(t, f.ValidateResponse(200, []byte("ok")))
	assert.NoError(t, f.ValidateResponse(200, []byte(`{"ok":true}`)))
	assert.Error(t, f.ValidateResponse(200, []byte(`{"ok":false,"error":"invalid_blocks"}`)))
	assert.Error(t, f.ValidateResponse(200, []byte("channel_is_archived")))
	assert.Error(t, f.ValidateResponse(500, nil))
}

func TestDiscordFormatter_TruncatedColor(t *testing.T) {
	msg := testMessage()
	msg.Truncated = true
	out, err := (&DiscordFormatter{}).Format(context.Background(), NewMessage(msg, nil, testNow))
	require.NoError(t, err)

	var p DiscordPayload
	require.NoError(t, json.Unmarshal(out, &p))
	assert.Equal(t, colorTruncated, p.Embeds[0].Color)
	assert.Equal(t, discordUsername, p.Username)
}

func TestDiscordFormatter_ValidateResponse(t *testing.T) {
	f := &DiscordFormatter{}
	assert.NoError(t, f.ValidateResponse(204, nil))
	err := f.ValidateResponse(400, []byte(`{"message":"Invalid Webhook Token"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Webhook Token")
}

func TestRegistry_Detect(t *testing.T) {
	r := NewPlatformRegistry()
	tests := []struct {
		url      string
		override string
		want     Platform
	}{
		{"https://hooks.slack.com/services/T/B/X", "", PlatformSlack},
		{"https://discord.com/api/webhooks/1/abc", "", PlatformDiscord},
		{"https://prod-01.westus.logic.azure.com/workflows/x", "", PlatformTeams},
		{"https://outlook.webhook.office.com/x", "", PlatformTeams},
		{"https://chat.googleapis.com/v1/spaces/x/messages", "", PlatformGoogleChat},
		{"https://example.com/hook", "", PlatformGeneric},
		{"https://example.com/hook", "slack", PlatformSlack},
		{"https://hooks.slack.com/services/T/B/X", "bogus", PlatformSlack},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Detect(tt.url, tt.override), tt.url)
	}
}

func TestRegistry_CheckDeprecation(t *testing.T) {
	r := NewPlatformRegistry()
	_, deprecated := r.CheckDeprecation("https://outlook.webhook.office.com/x")
	assert.True(t, deprecated)
	_, deprecated = r.CheckDeprecation("https://x.logic.azure.com/x")
	assert.False(t, deprecated)
}

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner("secret")
	payload := []byte(`{"text":"hi"}`)
	header := s.Sign(payload, testNow)

	assert.True(t, s.Verify(payload, header, testNow, 5*time.Minute))
	assert.False(t, s.Verify([]byte(`{"text":"tampered"}`), header, testNow, 0))
	assert.False(t, NewSigner("other").Verify(payload, header, testNow, 0))
	assert.False(t, s.Verify(payload, header, testNow.Add(time.Hour), time.Minute), "stale timestamp")
	assert.False(t, s.Verify(payload, "garbage", testNow, 0))
}

func TestNewSigner_EmptySecret(t *testing.T) {
	assert.Nil(t, NewSigner(""))
}
