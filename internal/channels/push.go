package channels

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/sns"
)

// PushPublisher publishes a push payload; *sns.Publisher satisfies it.
type PushPublisher interface {
	Publish(ctx context.Context, msg sns.Message) (string, error)
}

// PushAdapter forwards notifications to the mobile push topic.
type PushAdapter struct {
	publisher PushPublisher
	logger    *zap.Logger
}

func NewPushAdapter(publisher PushPublisher, logger *zap.Logger) *PushAdapter {
	return &PushAdapter{publisher: publisher, logger: logger}
}

func (a *PushAdapter) Channel() Channel { return ChannelPush }

func (a *PushAdapter) Send(ctx context.Context, msg Message) error {
	messageID, err := a.publisher.Publish(ctx, sns.Message{
		NotificationID: msg.NotificationID.String(),
		UserID:         msg.Recipient.ID.String(),
		Category:       string(msg.Category),
		Severity:       string(msg.Severity),
		Title:          msg.Title,
		Body:           msg.Body,
	})
	if err != nil {
		return fmt.Errorf("push publish failed: %w", err)
	}

	a.logger.Info("push published",
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("message_id", messageID),
	)
	return nil
}
