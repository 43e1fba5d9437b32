package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alertstream/internal/types"
)

// RecordTimeLayout is the createdAt wire format: UTC with a literal Z.
const RecordTimeLayout = "2006-01-02T15:04:05.000Z"

const (
	defaultSessionPath = "/session"
	defaultBlobPath    = "/blob"
	defaultRecordPath  = "/record"

	maxErrorBody = 4 << 10
)

// FeedClientConfig holds the configuration for creating a FeedClient.
type FeedClientConfig struct {
	BaseURL   string
	UserAgent string

	// Endpoint paths, overridable for deployments that mount the API
	// elsewhere.
	SessionPath string
	BlobPath    string
	RecordPath  string
}

// StatusError is a non-2xx response that BaseClient handed back unretried.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// BlobRef is the opaque upload handle echoed back into the record.
type BlobRef = json.RawMessage

// RecordAttachment references an uploaded blob.
type RecordAttachment struct {
	Blob     BlobRef `json:"blobRef"`
	MimeType string  `json:"mimeType"`
	Alt      string  `json:"alt,omitempty"`
}

// RecordRequest is the body of POST /record.
type RecordRequest struct {
	Text        string             `json:"text"`
	CreatedAt   string             `json:"createdAt"`
	Facets      []types.Facet      `json:"facets"`
	Attachments []RecordAttachment `json:"attachments,omitempty"`
}

// RecordAck is the acknowledgment of a created record.
type RecordAck struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessToken      string `json:"accessToken"`
	AccountID        string `json:"accountId"`
	ExpiresInSeconds int    `json:"expiresInSeconds,omitempty"`
}

type blobResponse struct {
	BlobRef json.RawMessage `json:"blobRef"`
}

// FeedClient speaks the remote feed protocol: login, blob upload and record
// creation. It makes no retry decision for login or record creation; those
// belong to the session manager and the relay respectively.
type FeedClient struct {
	once    *BaseClient
	retried *BaseClient

	baseURL     string
	sessionPath string
	blobPath    string
	recordPath  string
}

// NewFeedClient creates a FeedClient. Both internal clients share one circuit
// breaker so a failing endpoint trips the whole host.
func NewFeedClient(httpClient *http.Client, cfg FeedClientConfig, opts ...BaseClientOption) *FeedClient {
	breaker := NewBreaker("feed")
	opts = append([]BaseClientOption{WithBreaker(breaker)}, opts...)

	return NewFeedClientWithBase(
		NewBaseClient(httpClient, "feed", NoRetryPolicy(), cfg.UserAgent, opts...),
		NewBaseClient(httpClient, "feed", DefaultRetryPolicy(), cfg.UserAgent, opts...),
		cfg,
	)
}

// NewFeedClientWithBase creates a FeedClient with pre-configured BaseClients.
// once serves login and record creation, retried serves blob uploads.
func NewFeedClientWithBase(once, retried *BaseClient, cfg FeedClientConfig) *FeedClient {
	return &FeedClient{
		once:        once,
		retried:     retried,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		sessionPath: pathOr(cfg.SessionPath, defaultSessionPath),
		blobPath:    pathOr(cfg.BlobPath, defaultBlobPath),
		recordPath:  pathOr(cfg.RecordPath, defaultRecordPath),
	}
}

// CreateSession logs in. A 400/401/403 response is reported as
// auth_invalid_credentials; anything else is an upstream error the caller
// may retry.
func (c *FeedClient) CreateSession(ctx context.Context, identifier string, password types.SecretString) (*types.SessionGrant, error) {
	body, err := json.Marshal(sessionRequest{Identifier: identifier, Password: password.Unmask()})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize login request", err)
	}

	var out sessionResponse
	err = c.doJSON(ctx, c.once, c.sessionPath, "", "application/json", body, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, types.NewAppErrorWithDetails(types.ErrCodeAuthInvalidCreds,
					"remote rejected credentials", se, map[string]any{"status": se.StatusCode})
			}
			return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "login failed", se)
		}
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "login response carried no access token", nil)
	}

	return &types.SessionGrant{
		AccessToken:      out.AccessToken,
		AccountID:        out.AccountID,
		ExpiresInSeconds: out.ExpiresInSeconds,
	}, nil
}

// UploadBlob posts one attachment's bytes and returns the blob reference.
func (c *FeedClient) UploadBlob(ctx context.Context, token string, att types.Attachment) (BlobRef, error) {
	mime := att.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	var out blobResponse
	if err := c.doJSON(ctx, c.retried, c.blobPath, token, mime, att.Data, &out); err != nil {
		return nil, err
	}
	if len(out.BlobRef) == 0 || string(out.BlobRef) == "null" {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "upload response carried no blob reference", nil)
	}
	return out.BlobRef, nil
}

// CreateRecord posts the record. Non-2xx statuses BaseClient does not retry
// come back as *StatusError.
func (c *FeedClient) CreateRecord(ctx context.Context, token string, rec RecordRequest) (*RecordAck, error) {
	if rec.Facets == nil {
		rec.Facets = []types.Facet{}
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize record", err)
	}

	var ack RecordAck
	if err := c.doJSON(ctx, c.once, c.recordPath, token, "application/json", body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// FormatRecordTime renders t in the record timestamp format.
func FormatRecordTime(t time.Time) string {
	return t.UTC().Format(RecordTimeLayout)
}

func (c *FeedClient) doJSON(ctx context.Context, base *BaseClient, path, token, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return types.NewAppError(types.ErrCodeUpstreamRejected, fmt.Sprintf("decoding %s response", path), err)
	}
	return nil
}

func pathOr(p, def string) string {
	if p == "" {
		return def
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
