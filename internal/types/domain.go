package types

import (
	"time"
)

// Payload keys recognized by the pipeline. Unknown keys are preserved.
const (
	KeyMessage        = "message"
	KeyCreatedAt      = "created_at"
	KeyHost           = "host"
	KeySiteID         = "host_site_id"
	KeySensorID       = "host_sensor_id"
	KeyTags           = "tags"
	KeyTargetChannels = "target_channels"
	KeyMedia          = "media"
)

// Alert is a pending unit of work. The source that produced it owns it until
// it reaches a terminal state.
type Alert struct {
	ID     string     `json:"id"`
	Source SourceType `json:"source"`
	// Origin is the inbox path or row key the alert was discovered at.
	Origin string `json:"origin"`
	// ClaimRef is the single-writer handle held while the alert is in flight
	// (the renamed file path or the claim token).
	ClaimRef string `json:"-"`

	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ContentHash string         `json:"content_hash,omitempty"`
	State       AlertState     `json:"state"`

	// ParseErr is set when the artifact could not be decoded.
	ParseErr error `json:"-"`
}

// Session is the cached remote authentication state. Instances are never
// mutated once published; renewal replaces the whole value.
type Session struct {
	AccessToken string    `json:"-"`
	AccountID   string    `json:"account_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry. A session whose
// expiry equals now is still valid.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || now.After(s.ExpiresAt)
}

// Facet annotates a byte range of FormattedMessage.Text.
type Facet struct {
	Type      FacetType `json:"type"`
	ByteStart int       `json:"byteStart"`
	ByteEnd   int       `json:"byteEnd"`
	Value     string    `json:"value"`
}

// FormattedMessage is the immutable outgoing text plus facets.
type FormattedMessage struct {
	Text   string  `json:"text"`
	Facets []Facet `json:"facets"`
	// Truncated is set when the free-text body was shortened.
	Truncated bool `json:"truncated,omitempty"`
	// SuffixDropped is set when even the short attribution did not fit.
	SuffixDropped bool `json:"suffix_dropped,omitempty"`
}

// Attachment is a binary blob uploaded ahead of the record.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int {
	return len(a.Data)
}

// RecordRef acknowledges a created record.
type RecordRef struct {
	Channel ChannelType `json:"channel"`
	URI     string      `json:"uri"`
	CID     string      `json:"cid,omitempty"`
}

// SessionGrant is what the remote login endpoint returns.
type SessionGrant struct {
	AccessToken string
	AccountID   string
	// ExpiresInSeconds is zero when the remote omitted it.
	ExpiresInSeconds int
}
