package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channels"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// ErrAdapterPanic wraps a panic recovered from an adapter.
var ErrAdapterPanic = errors.New("channel adapter panicked")

// ChannelSendResult is the outcome of one side-channel send.
type ChannelSendResult struct {
	NotificationID uuid.UUID
	Channel        channels.Channel
	OK             bool
	Err            error
	Duration       time.Duration
}

// fanOut starts one goroutine per enabled side channel and returns the
// channels it started. Sends outlive the request context but are bounded
// by AdapterTimeout.
func (d *Dispatcher) fanOut(ctx context.Context, notif *db.Notification, recipient *db.Recipient) []channels.Channel {
	selected := d.adapters.Select(recipient.Preferences.Channels)
	if len(selected) == 0 {
		return nil
	}

	msg := channels.NewMessage(notif, recipient)
	detached := context.WithoutCancel(ctx)

	started := make([]channels.Channel, 0, len(selected))
	for _, adapter := range selected {
		started = append(started, adapter.Channel())
		d.wg.Add(1)
		go d.run(detached, adapter, msg)
	}
	return started
}

func (d *Dispatcher) run(ctx context.Context, adapter channels.Adapter, msg channels.Message) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
	defer cancel()

	start := time.Now()
	err := safeSend(ctx, adapter, msg)

	d.record(ChannelSendResult{
		NotificationID: msg.NotificationID,
		Channel:        adapter.Channel(),
		OK:             err == nil,
		Err:            err,
		Duration:       time.Since(start),
	})
}

func safeSend(ctx context.Context, adapter channels.Adapter, msg channels.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAdapterPanic, r)
		}
	}()
	return adapter.Send(ctx, msg)
}

func (d *Dispatcher) record(res ChannelSendResult) {
	metrics.RecordChannelSend(string(res.Channel), res.OK, res.Duration)

	fields := []zap.Field{
		zap.String("notification_id", res.NotificationID.String()),
		zap.String("channel", string(res.Channel)),
		zap.Duration("duration", res.Duration),
	}
	if res.OK {
		d.logger.Debug("side channel send succeeded", fields...)
	} else {
		d.logger.Warn("side channel send failed", append(fields, zap.Error(res.Err))...)
	}

	if d.cfg.OnResult != nil {
		d.cfg.OnResult(res)
	}
}
