package pub

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsPub struct{ cli *sns.Client }

func NewSNS(c *sns.Client) *snsPub { return &snsPub{cli: c} }

// NewSNSFromEnv builds the SNS publisher from the default AWS config. SNS_ENDPOINT points it
// at a local mock with static test credentials.
func NewSNSFromEnv(ctx context.Context) (*snsPub, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := os.Getenv("SNS_ENDPOINT")
	cli := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			if o.Region == "" {
				o.Region = "us-east-1"
			}
			o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
		}
	})
	return NewSNS(cli), nil
}

// PublishRaw publishes payload to the topic arn. Change events carry their op and
// collection as message attributes so subscribers can use SNS filter policies.
func (s *snsPub) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	attrs := map[string]types.MessageAttributeValue{
		"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
	}
	if ev, err := peekEvent(payload); err == nil {
		attrs["op"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(ev.Op)}
		attrs["collection"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(ev.Collection)}
	}
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn:          &arn,
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	return err
}
