package sns

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ghostzx3/telegrupos-payments/internal/domain"
)

// Publisher is the subset of the SNS API we use.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Client struct {
	snsClient Publisher
	topicARN  string
}

func NewClient(cfg aws.Config, topicARN string) *Client {
	return NewClientWithAPI(sns.NewFromConfig(cfg), topicARN)
}

func NewClientWithAPI(api Publisher, topicARN string) *Client {
	return &Client{
		snsClient: api,
		topicARN:  topicARN,
	}
}

func (c *Client) PublishPaymentPaid(ctx context.Context, event domain.PaymentPaidEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = c.snsClient.Publish(ctx, &sns.PublishInput{
		Message:  aws.String(string(payload)),
		TopicArn: aws.String(c.topicARN),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String("payment_paid"),
			},
			"plan_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.PlanType)),
			},
		},
	})

	return err
}
