package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// smsMaxLen keeps a message inside a single SMS segment.
const smsMaxLen = 160

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSAdapter sends notifications as SMS via AWS SNS direct publish.
type SMSAdapter struct {
	client snsAPI
	logger *zap.Logger
}

// NewSMSAdapter creates an SNS-backed SMS adapter for region.
func NewSMSAdapter(ctx context.Context, region string, logger *zap.Logger) (*SMSAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return newSMSAdapter(sns.NewFromConfig(awsCfg), logger), nil
}

func newSMSAdapter(client snsAPI, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{client: client, logger: logger}
}

func (a *SMSAdapter) Channel() Channel { return ChannelSMS }

func (a *SMSAdapter) Send(ctx context.Context, msg Message) error {
	if msg.Recipient.Phone == "" {
		return fmt.Errorf("%w: sms", ErrNoContact)
	}

	result, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.Recipient.Phone),
		Message:     aws.String(smsText(msg.Title, msg.Body)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	a.logger.Info("SMS sent via SNS",
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func smsText(title, body string) string {
	text := title + ": " + body
	runes := []rune(text)
	if len(runes) <= smsMaxLen {
		return text
	}
	return string(runes[:smsMaxLen-1]) + "…"
}
