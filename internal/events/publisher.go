package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Publisher delivers one envelope per record to the indexing bus (spec §4.2).
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes envelopes to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish marshals env and sends it to the configured queue. The
// emitter never throws back into the caller's transaction (spec §4.2);
// any SQS failure is simply returned for the caller to log.
func (p *SQSPublisher) Publish(ctx context.Context, env Envelope) error {
	if env.RecordSource == "" {
		env.RecordSource = RecordSourceConnector
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	if err != nil {
		return fmt.Errorf("publish envelope for record %s: %w", env.RecordID, err)
	}
	return nil
}
