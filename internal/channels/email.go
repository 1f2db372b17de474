package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailConfig configures the SES adapter.
type EmailConfig struct {
	Region    string
	FromEmail string
}

// EmailAdapter sends notifications as plain-text email via AWS SES.
type EmailAdapter struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

// NewEmailAdapter loads the default AWS credential chain for cfg.Region.
func NewEmailAdapter(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailAdapter, error) {
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("email adapter requires a from address")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return newEmailAdapter(ses.NewFromConfig(awsCfg), cfg.FromEmail, logger), nil
}

func newEmailAdapter(client sesAPI, from string, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{client: client, from: from, logger: logger}
}

func (a *EmailAdapter) Channel() Channel { return ChannelEmail }

// Send emails the notification title as subject and message as body.
func (a *EmailAdapter) Send(ctx context.Context, msg Message) error {
	if msg.Recipient.Email == "" {
		return fmt.Errorf("%w: email", ErrNoContact)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(a.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := a.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	a.logger.Info("email sent via SES",
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
