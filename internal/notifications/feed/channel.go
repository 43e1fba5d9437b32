package feed

import (
	"context"
	"time"

	"alertstream/internal/types"
)

// Sessions supplies and renews the shared session. *session.Manager
// implements it.
type Sessions interface {
	GetValidSession(ctx context.Context) (*types.Session, error)
	Renew(ctx context.Context, stale *types.Session) (*types.Session, error)
}

var _ types.NotificationChannel = (*Channel)(nil)

// Channel is the default NotificationChannel.
type Channel struct {
	delivery *DeliveryClient
	sessions Sessions
	logger   types.Logger
}

// NewChannel wires a delivery client to the session source.
func NewChannel(delivery *DeliveryClient, sessions Sessions, logger types.Logger) *Channel {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Channel{
		delivery: delivery,
		sessions: sessions,
		logger:   logger.With("channel", "feed"),
	}
}

func (c *Channel) Type() types.ChannelType {
	return types.ChannelFeed
}

// Send obtains a valid session and delivers. An auth failure or a 401 forces
// exactly one renewal and one more attempt; a second rejection is permanent.
// Log lines go to the per-alert logger carried by ctx when there is one.
func (c *Channel) Send(ctx context.Context, msg *types.FormattedMessage, atts []types.Attachment) (*types.RecordRef, error) {
	log := types.LoggerFrom(ctx, c.logger)

	// Reject oversized attachments before touching the session.
	if err := c.delivery.CheckAttachments(atts); err != nil {
		return nil, err
	}

	s, err := c.sessions.GetValidSession(ctx)
	if err != nil {
		if !types.IsAuthError(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("Session unavailable, forcing re-authentication", "error", err)
		if s, err = c.sessions.Renew(ctx, nil); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	ref, err := c.delivery.Deliver(ctx, s, msg, atts)
	if !types.IsSessionExpired(err) {
		logResult(log, ref, err, start)
		return ref, err
	}

	log.Info("Session rejected by remote, re-authenticating once", "account_id", s.AccountID)
	fresh, rerr := c.sessions.Renew(ctx, s)
	if rerr != nil {
		return nil, rerr
	}

	ref, err = c.delivery.Deliver(ctx, fresh, msg, atts)
	if types.IsSessionExpired(err) {
		return nil, types.NewPermanentError("session rejected after re-authentication", 401, err)
	}
	logResult(log, ref, err, start)
	return ref, err
}

func logResult(log types.Logger, ref *types.RecordRef, err error, start time.Time) {
	if err != nil {
		log.Debug("Feed delivery failed", "error", err, "elapsed", time.Since(start))
		return
	}
	log.Debug("Feed record created", "uri", ref.URI, "elapsed", time.Since(start))
}
