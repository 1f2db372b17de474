// Package circuitbreaker stops dispatch from calling a channel provider
// (SES, SNS) that keeps failing. Each channel has its own breaker, so an
// SMS outage never blocks email or push.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channels"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// State is where a breaker sits in the closed -> open -> half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned instead of calling a provider whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Policy controls when a channel's breaker opens and how it recovers.
type Policy struct {
	// Threshold is the run of consecutive provider failures that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects sends before retrying.
	Cooldown time.Duration
	// Trials caps concurrent sends while half-open.
	Trials int
}

// DefaultPolicy returns the policy for ch. SMS opens after fewer failures
// and waits longer before retrying; push allows two trial sends at once.
func DefaultPolicy(ch channels.Channel) Policy {
	switch ch {
	case channels.ChannelSMS:
		return Policy{Threshold: 3, Cooldown: time.Minute, Trials: 1}
	case channels.ChannelPush:
		return Policy{Threshold: 5, Cooldown: 15 * time.Second, Trials: 2}
	default:
		return Policy{Threshold: 5, Cooldown: 30 * time.Second, Trials: 1}
	}
}

func (p Policy) normalized() Policy {
	if p.Threshold <= 0 {
		p.Threshold = 1
	}
	if p.Trials <= 0 {
		p.Trials = 1
	}
	return p
}

// Breaker guards the provider behind one channel.
type Breaker struct {
	channel channels.Channel
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	trials   int

	sent     int64
	failed   int64
	rejected int64
}

// NewBreaker creates a closed breaker for ch.
func NewBreaker(ch channels.Channel, policy Policy, logger *zap.Logger) *Breaker {
	return &Breaker{
		channel: ch,
		policy:  policy.normalized(),
		logger:  logger.With(zap.String("channel", string(ch))),
		now:     time.Now,
	}
}

// Channel returns the channel this breaker guards.
func (b *Breaker) Channel() channels.Channel {
	return b.channel
}

// Acquire reserves a send. It fails with ErrCircuitOpen while the breaker
// is cooling down or every half-open trial slot is taken. Every nil return
// must be followed by exactly one Report.
func (b *Breaker) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.policy.Cooldown {
			b.rejected++
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.channel)
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.policy.Trials {
			b.rejected++
			return fmt.Errorf("%w: %s trial in flight", ErrCircuitOpen, b.channel)
		}
		b.trials++
	}

	b.sent++
	return nil
}

// Report records the outcome of an acquired send. A missing contact point
// or a cancelled caller says nothing about the provider and leaves the
// failure streak as it was.
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}

	switch {
	case err == nil:
		b.streak = 0
		if b.state != StateClosed {
			b.logger.Info("provider recovered")
			b.setState(StateClosed)
		}
	case !providerFault(err):
	default:
		b.failed++
		b.streak++
		if b.state == StateHalfOpen || b.streak >= b.policy.Threshold {
			b.trip(err)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a breaker's state as reported on /health.
type Stats struct {
	Channel  string     `json:"channel"`
	State    string     `json:"state"`
	Streak   int        `json:"failure_streak"`
	Sent     int64      `json:"sent"`
	Failed   int64      `json:"failed"`
	Rejected int64      `json:"rejected"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Channel:  string(b.channel),
		State:    b.state.String(),
		Streak:   b.streak,
		Sent:     b.sent,
		Failed:   b.failed,
		Rejected: b.rejected,
	}
	if b.state != StateClosed {
		opened := b.openedAt
		s.OpenedAt = &opened
	}
	return s
}

func (b *Breaker) trip(cause error) {
	b.openedAt = b.now()
	if b.state == StateOpen {
		return
	}
	b.logger.Warn("provider failing, breaker open",
		zap.Int("streak", b.streak),
		zap.Duration("cooldown", b.policy.Cooldown),
		zap.Error(cause),
	)
	b.setState(StateOpen)
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if s != StateHalfOpen {
		b.trials = 0
	}
	metrics.RecordCircuitStateChange(string(b.channel), s.String())
}

func providerFault(err error) bool {
	return !errors.Is(err, channels.ErrNoContact) && !errors.Is(err, context.Canceled)
}
