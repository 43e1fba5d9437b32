package types

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertPending   AlertState = "pending"
	AlertDelivered AlertState = "delivered"
	AlertDuplicate AlertState = "duplicate"
	AlertFailed    AlertState = "failed"
)

// IsTerminal reports whether the state ends processing for an alert.
func (s AlertState) IsTerminal() bool {
	switch s {
	case AlertDelivered, AlertDuplicate, AlertFailed:
		return true
	default:
		return false
	}
}

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelFeed    ChannelType = "feed"
	ChannelWebhook ChannelType = "webhook"
)

// SourceType identifies where alerts originate.
type SourceType string

const (
	SourceFile     SourceType = "file"
	SourceDatabase SourceType = "database"
)

// FacetType tags a rich-text span in a formatted message.
type FacetType string

const (
	FacetLink    FacetType = "link"
	FacetTag     FacetType = "tag"
	FacetMention FacetType = "mention"
)
