package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/logger"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes events to an AWS SQS queue
type SQS struct {
	client   messageSender
	queueURL string
}

// NewSQS returns an SQS notifier using the default AWS credential chain
func NewSQS(ctx context.Context, region, queueURL string) (*SQS, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SQS{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

// Notify implements core.Notifier. The payload is the message body.
func (s *SQS) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"resource":  stringAttribute(resource),
			"operation": stringAttribute(string(operation)),
			"logger":    stringAttribute(string(logger.SerializeLoggerContext(ctx))),
		},
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debugf("published %s to sqs as %s", Event(resource, operation), aws.ToString(out.MessageId))
	return nil
}
