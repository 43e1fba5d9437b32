package types

import "time"

// MessageStatus is the lifecycle column of a stored alert row.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageSent       MessageStatus = "sent"
	MessageDuplicate  MessageStatus = "duplicate"
	MessageFailed     MessageStatus = "failed"
)

// MessageStatusFor maps a terminal alert state to its row status.
func MessageStatusFor(state AlertState) MessageStatus {
	switch state {
	case AlertDelivered:
		return MessageSent
	case AlertDuplicate:
		return MessageDuplicate
	case AlertFailed:
		return MessageFailed
	default:
		return MessagePending
	}
}

// MessageRecord is one row of the message table, the database alert origin.
type MessageRecord struct {
	ID             int64
	Message        string
	CreatedBy      string
	CreatedAt      time.Time
	SiteUUID       string
	Host           string
	HostSiteID     string
	HostSensorID   string
	TriggerType    string
	TargetChannels []string
	SiteLat        *float64
	SiteLong       *float64
	Tags           []string
	Status         MessageStatus
	FailureReason  string
	ClaimToken     string
	ClaimedAt      *time.Time
	ProcessedAt    *time.Time
}

// Payload renders the row in the same key space as an alert file, omitting
// empty optional columns so file and row alerts hash alike.
func (m *MessageRecord) Payload() map[string]any {
	p := map[string]any{
		KeyMessage:   m.Message,
		KeyCreatedAt: m.CreatedAt.UTC(),
	}
	setIf := func(key, v string) {
		if v != "" {
			p[key] = v
		}
	}
	setIf(KeyHost, m.Host)
	setIf(KeySiteID, m.HostSiteID)
	setIf(KeySensorID, m.HostSensorID)
	setIf("created_by", m.CreatedBy)
	setIf("site_uuid", m.SiteUUID)
	setIf("trigger_type", m.TriggerType)
	if len(m.Tags) > 0 {
		tags := make([]any, len(m.Tags))
		for i, t := range m.Tags {
			tags[i] = t
		}
		p[KeyTags] = tags
	}
	if len(m.TargetChannels) > 0 {
		chans := make([]any, len(m.TargetChannels))
		for i, c := range m.TargetChannels {
			chans[i] = c
		}
		p[KeyTargetChannels] = chans
	}
	if m.SiteLat != nil {
		p["site_lat"] = *m.SiteLat
	}
	if m.SiteLong != nil {
		p["site_long"] = *m.SiteLong
	}
	return p
}
