package channels

import (
	"context"

	"go.uber.org/zap"
)

// LogAdapter only logs deliveries (for development and tests).
type LogAdapter struct {
	channel Channel
	logger  *zap.Logger
}

func NewLogAdapter(ch Channel, logger *zap.Logger) *LogAdapter {
	return &LogAdapter{channel: ch, logger: logger}
}

// LogAdapters returns a log adapter for every side channel.
func LogAdapters(logger *zap.Logger) []Adapter {
	return []Adapter{
		NewLogAdapter(ChannelEmail, logger),
		NewLogAdapter(ChannelSMS, logger),
		NewLogAdapter(ChannelPush, logger),
	}
}

func (a *LogAdapter) Channel() Channel { return a.channel }

func (a *LogAdapter) Send(ctx context.Context, msg Message) error {
	a.logger.Info("side channel delivery (log mode)",
		zap.String("channel", string(a.channel)),
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("user_id", msg.Recipient.ID.String()),
		zap.String("title", msg.Title),
	)
	return nil
}
