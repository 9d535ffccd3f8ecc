// Package notify delivers customer and operator messages over SMS and email,
// escalating across channels when the primary fails.
package notify

import (
	"context"
	"errors"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

var ErrChannelNotConfigured = errors.New("notification channel is not configured")

type Message struct {
	To      string
	Subject string
	Body    string
	OrderID string
}

type SendResult struct {
	Success   bool
	Channel   Channel
	MessageID string
	Error     string
	Escalated bool
}

type SendOptions struct {
	// SkipFallback suppresses escalation on failure. Set on the
	// escalation hop itself so a failing fallback cannot loop.
	SkipFallback bool
}

// FailureRecord is the append-only audit row written for every delivery
// failure, fallback or not.
type FailureRecord struct {
	ID        string
	Channel   Channel
	Recipient string
	Subject   string
	Preview   string
	Error     string
	OrderID   string
	CreatedAt time.Time
}

// ChannelClient is one concrete delivery mechanism.
type ChannelClient interface {
	Name() Channel
	Send(ctx context.Context, msg Message) (string, error)
}

type FailureLog interface {
	Record(ctx context.Context, f FailureRecord) error
}

// HealthTracker keeps the per-channel consecutive-failure counters that back
// the degraded flag.
type HealthTracker interface {
	RecordFailure(ctx context.Context, ch Channel) error
	RecordSuccess(ctx context.Context, ch Channel) error
	Degraded(ctx context.Context, ch Channel) (bool, error)
}

type SettingsProvider interface {
	Get(ctx context.Context, key string) (string, error)
}
