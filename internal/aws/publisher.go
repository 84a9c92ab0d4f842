package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// StatusEvent is the queue payload asking for one order to be advanced to one
// target status. The API publishes it; the worker consumes it.
type StatusEvent struct {
	OrderID       string `json:"order_id"`
	TargetStatus  string `json:"target_status"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// SendStatusEvent publishes a status event. The body is the JSON encoding of
// the event; order id, target status and correlation id are mirrored as
// message attributes so queue tooling can filter without parsing bodies.
func (p *Publisher) SendStatusEvent(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{
		"order_id":      {DataType: awsString("String"), StringValue: &ev.OrderID},
		"target_status": {DataType: awsString("String"), StringValue: &ev.TargetStatus},
	}
	if ev.CorrelationID != "" {
		attrs["correlation_id"] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: &ev.CorrelationID,
		}
	}

	bodyStr := string(body)
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &p.QueueURL,
		MessageBody:       &bodyStr,
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
