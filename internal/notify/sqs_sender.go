package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsSender sends CompletionMessage values through an sqs.Client, the
// production sender implementation for SQSPublisher.
type sqsSender struct {
	client *sqs.Client
}

// NewSQSSender wraps client as a Publisher transport.
func NewSQSSender(client *sqs.Client) *sqsSender {
	return &sqsSender{client: client}
}

func (s *sqsSender) Send(ctx context.Context, queueURL string, msg CompletionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sqs sender: marshal message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"bundle_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.BundleID),
			},
			"recipe_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.RecipeID),
			},
			"completion_timestamp": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.CompletionTimestamp),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs sender: send message: %w", err)
	}
	return nil
}
