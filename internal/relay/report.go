package relay

import (
	"time"

	"alertstream/internal/types"
)

// Outcome is what happened to one alert in a cycle. State is empty when the
// alert was released back to its source instead of completed.
type Outcome struct {
	AlertID   string            `json:"alert_id"`
	State     types.AlertState  `json:"state,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	ErrorCode types.ErrorCode   `json:"error_code,omitempty"`
	Channel   types.ChannelType `json:"channel,omitempty"`
	RecordURI string            `json:"record_uri,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
}

// Released reports whether the alert was handed back untouched.
func (o Outcome) Released() bool {
	return o.State == ""
}

// CycleReport summarizes one RunOnce.
type CycleReport struct {
	CycleID    string           `json:"cycle_id"`
	Source     types.SourceType `json:"source"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration_ns"`
	Polled     int              `json:"polled"`
	Delivered  int              `json:"delivered"`
	Duplicates int              `json:"duplicates"`
	Failed     int              `json:"failed"`
	Released   int              `json:"released"`
	Outcomes   []Outcome        `json:"outcomes"`
}

func (c *CycleReport) add(o Outcome) {
	c.Outcomes = append(c.Outcomes, o)
	switch o.State {
	case types.AlertDelivered:
		c.Delivered++
	case types.AlertDuplicate:
		c.Duplicates++
	case types.AlertFailed:
		c.Failed++
	default:
		c.Released++
	}
}

// Outcome returns the recorded outcome for alertID.
func (c *CycleReport) Outcome(alertID string) (Outcome, bool) {
	for _, o := range c.Outcomes {
		if o.AlertID == alertID {
			return o, true
		}
	}
	return Outcome{}, false
}
