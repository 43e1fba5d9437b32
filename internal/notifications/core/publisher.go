package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"alertstream/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutcomeEvent is the JSON body published for each terminal alert outcome.
type OutcomeEvent struct {
	AlertID     string            `json:"alert_id"`
	Source      types.SourceType  `json:"source"`
	Outcome     types.AlertState  `json:"outcome"`
	Reason      string            `json:"reason,omitempty"`
	ErrorCode   types.ErrorCode   `json:"error_code,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Channel     types.ChannelType `json:"channel,omitempty"`
	RecordURI   string            `json:"record_uri,omitempty"`
	CycleID     string            `json:"cycle_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// OutcomePublisher is the sink the relay reports terminal outcomes to.
type OutcomePublisher interface {
	Publish(ctx context.Context, evt OutcomeEvent) error
}

// SQSOutcomePublisher sends OutcomeEvents to an SQS queue.
type SQSOutcomePublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

var _ OutcomePublisher = (*SQSOutcomePublisher)(nil)

// NewSQSOutcomePublisher creates a publisher targeting queueURL.
func NewSQSOutcomePublisher(client SQSSender, queueURL string, logger types.Logger) *SQSOutcomePublisher {
	return &SQSOutcomePublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes evt and sends it with the outcome as a message
// attribute, so consumers can filter without parsing the body.
func (p *SQSOutcomePublisher) Publish(ctx context.Context, evt OutcomeEvent) error {
	if evt.CycleID == "" {
		evt.CycleID = types.GetCycleID(ctx)
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("outcome publisher: failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Outcome)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("outcome publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Debug("outcome event published",
		"alert_id", evt.AlertID,
		"outcome", string(evt.Outcome),
		"cycle_id", evt.CycleID,
	)
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OutcomeEvent) error { return nil }
