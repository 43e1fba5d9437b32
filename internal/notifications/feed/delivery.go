// Package feed delivers formatted alerts to the remote social feed.
//
// DeliveryClient performs one delivery attempt with a given session and
// classifies the outcome as transient, permanent or session-expired. Channel
// wraps it as a NotificationChannel that owns the session lifecycle: a
// session-expired response triggers one forced renewal and one retry.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"alertstream/internal/external"
	"alertstream/internal/types"
)

const (
	DefaultMaxAttachmentBytes = 1_000_000
	DefaultMaxAttachments     = 4
)

// Client is the remote protocol surface the delivery client needs.
// *external.FeedClient implements it.
type Client interface {
	UploadBlob(ctx context.Context, token string, att types.Attachment) (external.BlobRef, error)
	CreateRecord(ctx context.Context, token string, rec external.RecordRequest) (*external.RecordAck, error)
}

// Options configures a DeliveryClient.
type Options struct {
	MaxAttachmentBytes int
	MaxAttachments     int
	Clock              types.Clock
	Logger             types.Logger
}

// DeliveryClient sends one formatted message through an authenticated
// session. It never retries; the caller owns the retry budget.
type DeliveryClient struct {
	client   Client
	maxBytes int
	maxAtts  int
	clock    types.Clock
	logger   types.Logger
}

// NewDeliveryClient applies defaults for zero options.
func NewDeliveryClient(client Client, opts Options) *DeliveryClient {
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if opts.MaxAttachments <= 0 {
		opts.MaxAttachments = DefaultMaxAttachments
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	return &DeliveryClient{
		client:   client,
		maxBytes: opts.MaxAttachmentBytes,
		maxAtts:  opts.MaxAttachments,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// CheckAttachments enforces the count and size caps. It does no I/O, so an
// oversized attachment fails before anything is sent.
func (d *DeliveryClient) CheckAttachments(atts []types.Attachment) error {
	if len(atts) > d.maxAtts {
		return types.NewAppErrorWithDetails(types.ErrCodeAttachmentLimit,
			fmt.Sprintf("%d attachments exceed the limit of %d", len(atts), d.maxAtts), nil,
			map[string]any{"count": len(atts), "limit": d.maxAtts})
	}
	for _, a := range atts {
		if a.Size() > d.maxBytes {
			return types.NewAppErrorWithDetails(types.ErrCodeAttachmentTooLarge,
				fmt.Sprintf("attachment %q is %d bytes, limit is %d", a.Name, a.Size(), d.maxBytes), nil,
				map[string]any{"name": a.Name, "size": a.Size(), "limit": d.maxBytes})
		}
	}
	return nil
}

// Deliver uploads attachments, then creates the record stamped with the
// current UTC time.
//
// Errors: AppError for attachment violations, *types.DeliveryError for
// remote failures (upload failures are permanent), or the context error
// when ctx was cancelled.
func (d *DeliveryClient) Deliver(ctx context.Context, session *types.Session, msg *types.FormattedMessage, atts []types.Attachment) (*types.RecordRef, error) {
	if session == nil {
		return nil, types.NewSessionExpiredError("no session")
	}
	if msg == nil {
		return nil, types.NewPermanentError("message is nil", 0, nil)
	}
	if err := d.CheckAttachments(atts); err != nil {
		return nil, err
	}

	rec := external.RecordRequest{
		Text:      msg.Text,
		CreatedAt: external.FormatRecordTime(d.clock.Now()),
		Facets:    msg.Facets,
	}

	for _, a := range atts {
		ref, err := d.client.UploadBlob(ctx, session.AccessToken, a)
		if err != nil {
			classified := classify(err)
			if types.IsSessionExpired(classified) || errors.Is(classified, context.Canceled) {
				return nil, classified
			}
			d.logger.Warn("Attachment upload failed", "name", a.Name, "error", err)
			return nil, types.NewPermanentError(fmt.Sprintf("uploading %s", a.Name), statusOf(err), err)
		}
		rec.Attachments = append(rec.Attachments, external.RecordAttachment{
			Blob:     ref,
			MimeType: a.MimeType,
			Alt:      a.Name,
		})
	}

	ack, err := d.client.CreateRecord(ctx, session.AccessToken, rec)
	if err != nil {
		return nil, classify(err)
	}
	return &types.RecordRef{Channel: types.ChannelFeed, URI: ack.URI, CID: ack.CID}, nil
}

// classify maps protocol errors onto the delivery taxonomy.
//
//	401                          -> session expired
//	429, 5xx, network, breaker   -> transient
//	other 4xx, malformed         -> permanent
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTransientError("timeout", 0, err)
	}

	var se *external.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized:
			return types.NewSessionExpiredError(se.Body)
		case se.StatusCode == http.StatusTooManyRequests, se.StatusCode >= 500:
			return types.NewTransientError(se.Error(), se.StatusCode, err)
		default:
			return types.NewPermanentError(se.Error(), se.StatusCode, err)
		}
	}

	switch types.CodeOf(err) {
	case types.ErrCodeUpstreamUnavailable:
		return types.NewTransientError("upstream unavailable", 0, err)
	case types.ErrCodeUpstreamRateLimited:
		return types.NewTransientError("rate limited", http.StatusTooManyRequests, err)
	}
	return types.NewPermanentError(err.Error(), 0, err)
}

func statusOf(err error) int {
	var se *external.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
