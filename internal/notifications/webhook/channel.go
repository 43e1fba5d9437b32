// Package webhook implements the webhook notification channel.
//
// It detects the destination platform (Slack, Teams, Discord, Google Chat)
// from the URL, renders the formatted alert in that platform's JSON schema,
// signs the body with HMAC-SHA256 when a secret is configured, and posts it
// through an SSRF-guarded client.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"alertstream/internal/config"
	"alertstream/internal/external"
	"alertstream/internal/security"
	"alertstream/internal/types"
)

const (
	// maxResponseBodyRead limits how much of a response body we read.
	maxResponseBodyRead = 4096

	EventHeader    = "X-AlertStream-Event"
	DeliveryHeader = "X-AlertStream-Delivery"
)

var _ types.NotificationChannel = (*Channel)(nil)

// Options configures a Channel.
type Options struct {
	URL       string
	Secret    types.SecretString
	UserAgent string
	// Platform overrides URL-based detection when set.
	Platform string
	Logger   types.Logger
	Clock    types.Clock
}

// Channel posts alerts to one webhook URL.
type Channel struct {
	base     *external.BaseClient
	registry *PlatformRegistry
	signer   *Signer
	url      string
	platform Platform
	logger   types.Logger
	clock    types.Clock
}

// NewChannel builds a Channel from configuration with an SSRF-guarded HTTP
// client. Retries are left to the relay.
func NewChannel(cfg config.WebhookConfig, logger types.Logger) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook channel: url is required")
	}

	var guardOpts []security.GuardOption
	if cfg.AllowPrivate {
		guardOpts = append(guardOpts, security.AllowPrivate())
	}
	guard, err := security.NewGuard(guardOpts...)
	if err != nil {
		return nil, fmt.Errorf("webhook channel: %w", err)
	}

	base := external.NewBaseClient(
		guard.NewSafeHTTPClient(cfg.Timeout, cfg.MaxRedirects),
		"webhook",
		external.NoRetryPolicy(),
		cfg.UserAgent,
	)
	return NewChannelWithClient(base, Options{
		URL:       cfg.URL,
		Secret:    cfg.Secret,
		UserAgent: cfg.UserAgent,
		Platform:  cfg.Platform,
		Logger:    logger,
	}), nil
}

// NewChannelWithClient creates a Channel over a caller-supplied BaseClient.
func NewChannelWithClient(base *external.BaseClient, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	registry := NewPlatformRegistry()
	platform := registry.Detect(opts.URL, opts.Platform)

	if warning, deprecated := registry.CheckDeprecation(opts.URL); deprecated {
		opts.Logger.Warn("webhook URL is deprecated", "warning", warning)
	}

	return &Channel{
		base:     base,
		registry: registry,
		signer:   NewSigner(opts.Secret.Unmask()),
		url:      opts.URL,
		platform: platform,
		logger:   opts.Logger.With("channel", "webhook", "platform", string(platform)),
		clock:    opts.Clock,
	}
}

// Type returns the channel type identifier for webhooks.
func (c *Channel) Type() types.ChannelType {
	return types.ChannelWebhook
}

// Platform returns the detected destination platform.
func (c *Channel) Platform() Platform {
	return c.platform
}

// Send renders msg for the platform and posts it.
//
// Response handling:
//   - 2xx: validate the platform body; a soft failure is transient
//   - 410 Gone and other 4xx: permanent
//   - 429, 5xx and network errors: transient
//   - SSRF refusals: permanent
func (c *Channel) Send(ctx context.Context, msg *types.FormattedMessage, attachments []types.Attachment) (*types.RecordRef, error) {
	if msg == nil {
		return nil, types.NewPermanentError("message is nil", 0, nil)
	}

	formatter := c.registry.Get(c.platform)
	payload, err := formatter.Format(ctx, NewMessage(msg, attachments, c.clock.Now()))
	if err != nil {
		return nil, types.NewPermanentError("formatting webhook payload", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewPermanentError("building webhook request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, EventAlert)
	req.Header.Set(DeliveryHeader, uuid.NewString())
	if c.signer != nil {
		req.Header.Set(SignatureHeader, c.signer.Sign(payload, c.clock.Now()))
	}

	c.logger.Debug("delivering webhook", "payload_size", len(payload))

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := formatter.ValidateResponse(resp.StatusCode, body); err != nil {
			c.logger.Warn("webhook soft failure on 2xx", "status", resp.StatusCode, "error", err)
			return nil, types.NewTransientError("soft_failure", resp.StatusCode, err)
		}
		id := extractProviderMessageID(resp, c.platform)
		c.logger.Info("webhook delivered", "status", resp.StatusCode, "provider_message_id", id)
		return &types.RecordRef{Channel: types.ChannelWebhook, URI: id}, nil

	case resp.StatusCode == http.StatusGone:
		c.logger.Warn("webhook endpoint gone (410)")
		return nil, types.NewPermanentError("endpoint_gone", resp.StatusCode, nil)

	default:
		c.logger.Warn("webhook rejected", "status", resp.StatusCode, "body", truncateBody(body))
		return nil, types.NewPermanentError(
			fmt.Sprintf("client_error_%d: %s", resp.StatusCode, truncateBody(body)),
			resp.StatusCode, nil)
	}
}

func (c *Channel) classifyTransportError(err error) error {
	if security.IsSSRFError(err) {
		c.logger.Error("webhook SSRF blocked", "error", err)
		return types.NewPermanentError("ssrf_blocked", 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	if types.CodeOf(err) == types.ErrCodeUpstreamRateLimited {
		status = http.StatusTooManyRequests
	}
	c.logger.Warn("webhook transport error", "error", err)
	return types.NewTransientError("network_error", status, err)
}

// extractProviderMessageID prefers a provider request id header and falls
// back to a synthetic, traceable id.
func extractProviderMessageID(resp *http.Response, platform Platform) string {
	if platform == PlatformSlack {
		if reqID := resp.Header.Get("X-Slack-Req-Id"); reqID != "" {
			return reqID
		}
	}
	if reqID := resp.Header.Get("X-Request-Id"); reqID != "" {
		return reqID
	}
	return generateSyntheticID(resp.StatusCode)
}

// generateSyntheticID formats webhook-{status}-{unix}-{uuid8}.
func generateSyntheticID(statusCode int) string {
	return fmt.Sprintf("webhook-%d-%d-%s",
		statusCode,
		time.Now().Unix(),
		uuid.New().String()[:8],
	)
}
