package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channels"
)

// ProtectedAdapter sends through a channel adapter only while its breaker allows it.
type ProtectedAdapter struct {
	adapter channels.Adapter
	breaker *Breaker
	logger  *zap.Logger
}

// NewProtectedAdapter wraps adapter with breaker.
func NewProtectedAdapter(adapter channels.Adapter, breaker *Breaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{adapter: adapter, breaker: breaker, logger: logger}
}

// Channel returns the wrapped adapter's channel.
func (p *ProtectedAdapter) Channel() channels.Channel {
	return p.adapter.Channel()
}

// Send delivers msg unless the channel's breaker is open.
func (p *ProtectedAdapter) Send(ctx context.Context, msg channels.Message) (err error) {
	if err := p.breaker.Acquire(); err != nil {
		p.logger.Debug("send skipped",
			zap.String("channel", string(p.adapter.Channel())),
			zap.String("notification_id", msg.NotificationID.String()),
		)
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			p.breaker.Report(fmt.Errorf("adapter panic: %v", r))
			panic(r)
		}
	}()

	err = p.adapter.Send(ctx, msg)
	p.breaker.Report(err)
	return err
}

// Set is the breakers guarding one registry's adapters.
type Set struct {
	adapters []channels.Adapter
	breakers []*Breaker
}

// Protect gives each adapter its own breaker using DefaultPolicy for its channel.
func Protect(logger *zap.Logger, adapters ...channels.Adapter) *Set {
	s := &Set{}
	for _, a := range adapters {
		b := NewBreaker(a.Channel(), DefaultPolicy(a.Channel()), logger)
		s.adapters = append(s.adapters, NewProtectedAdapter(a, b, logger))
		s.breakers = append(s.breakers, b)
	}
	return s
}

// Adapters returns the guarded adapters, ready for channels.NewRegistry.
func (s *Set) Adapters() []channels.Adapter {
	return s.adapters
}

// Stats returns one snapshot per channel, in adapter order.
func (s *Set) Stats() []Stats {
	out := make([]Stats, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Stats())
	}
	return out
}
