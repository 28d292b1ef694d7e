package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher publishes raw messages to a topic.
type SNSPublisher struct {
	client SNSAPI
}

func NewSNSPublisher(client SNSAPI) *SNSPublisher {
	return &SNSPublisher{client: client}
}

// Publish sends message to topicArn with an event_type attribute for subscription filtering.
func (s *SNSPublisher) Publish(ctx context.Context, topicArn, eventType string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	input := &sns.PublishInput{
		TopicArn: awsString(topicArn),
		Message:  awsString(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: awsString("String"), StringValue: awsString(eventType)},
		},
	}
	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
