package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Settings keys for operator alert recipients per channel.
const (
	SettingOperatorEmail = "operator_email"
	SettingOperatorPhone = "operator_phone"
)

const previewLen = 140

// maxEscalationHops caps the visited-channel chain: one escalation hop, then
// the chain stops regardless of outcome.
const maxEscalationHops = 1

// Dispatcher attempts delivery on a primary channel and, on failure, raises
// an operator alert on the next configured channel not yet visited in this
// chain. Every failure lands in the audit log either way.
type Dispatcher struct {
	log      *slog.Logger
	clients  map[Channel]ChannelClient
	order    []Channel
	failures FailureLog
	health   HealthTracker
	settings SettingsProvider
	now      func() time.Time
}

func NewDispatcher(log *slog.Logger, failures FailureLog, health HealthTracker, settings SettingsProvider, clients ...ChannelClient) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		clients:  make(map[Channel]ChannelClient, len(clients)),
		failures: failures,
		health:   health,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, c := range clients {
		d.clients[c.Name()] = c
		d.order = append(d.order, c.Name())
	}
	return d
}

func (d *Dispatcher) Send(ctx context.Context, ch Channel, msg Message, opts SendOptions) SendResult {
	return d.send(ctx, ch, msg, opts.SkipFallback, nil)
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message, skipFallback bool, visited []Channel) SendResult {
	client, ok := d.clients[ch]
	if !ok {
		return d.failed(ctx, ch, msg, ErrChannelNotConfigured, skipFallback, visited)
	}

	id, err := client.Send(ctx, msg)
	if err != nil {
		return d.failed(ctx, ch, msg, err, skipFallback, visited)
	}

	if err := d.health.RecordSuccess(ctx, ch); err != nil {
		d.log.Warn("health counter update failed", "channel", ch, "err", err)
	}
	d.log.Info("notification sent", "channel", ch, "to", msg.To, "message_id", id)
	return SendResult{Success: true, Channel: ch, MessageID: id}
}

func (d *Dispatcher) failed(ctx context.Context, ch Channel, msg Message, sendErr error, skipFallback bool, visited []Channel) SendResult {
	d.log.Error("notification send failed", "channel", ch, "to", msg.To, "err", sendErr)

	rec := FailureRecord{
		ID:        uuid.NewString(),
		Channel:   ch,
		Recipient: msg.To,
		Subject:   msg.Subject,
		Preview:   truncate(msg.Body, previewLen),
		Error:     truncate(sendErr.Error(), 500),
		OrderID:   msg.OrderID,
		CreatedAt: d.now(),
	}
	if err := d.failures.Record(ctx, rec); err != nil {
		d.log.Error("failure audit write failed", "channel", ch, "err", err)
	}
	if err := d.health.RecordFailure(ctx, ch); err != nil {
		d.log.Warn("health counter update failed", "channel", ch, "err", err)
	}

	result := SendResult{Success: false, Channel: ch, Error: truncate(sendErr.Error(), 200)}
	if skipFallback || len(visited) >= maxEscalationHops {
		return result
	}

	visited = append(visited, ch)
	next, to, ok := d.escalationTarget(ctx, visited)
	if !ok {
		d.log.Warn("no escalation channel available", "failed_channel", ch)
		return result
	}

	alert := Message{
		To:      to,
		Subject: "Notification delivery failure",
		Body: fmt.Sprintf("Delivery to %s on %s failed (%s). Original message: %s",
			msg.To, ch, truncate(sendErr.Error(), 100), truncate(msg.Body, previewLen)),
		OrderID: msg.OrderID,
	}
	escalation := d.send(ctx, next, alert, true, visited)
	result.Escalated = escalation.Success
	return result
}

// escalationTarget picks the first configured channel not yet visited in this
// chain, together with the operator recipient for it.
func (d *Dispatcher) escalationTarget(ctx context.Context, visited []Channel) (Channel, string, bool) {
	for _, ch := range d.order {
		if containsChannel(visited, ch) {
			continue
		}
		key := SettingOperatorEmail
		if ch == ChannelSMS {
			key = SettingOperatorPhone
		}
		to, err := d.settings.Get(ctx, key)
		if err != nil || to == "" {
			continue
		}
		return ch, to, true
	}
	return "", "", false
}

// SendEmail delivers a customer email with normal escalation. Implements the
// billing Notifier port.
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, body, orderID string) error {
	res := d.Send(ctx, ChannelEmail, Message{To: to, Subject: subject, Body: body, OrderID: orderID}, SendOptions{})
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

// AlertOperator raises an operator alert on email first, escalating like any
// other send.
func (d *Dispatcher) AlertOperator(ctx context.Context, subject, body, orderID string) error {
	to, err := d.settings.Get(ctx, SettingOperatorEmail)
	if err != nil || to == "" {
		return ErrChannelNotConfigured
	}
	res := d.Send(ctx, ChannelEmail, Message{To: to, Subject: subject, Body: body, OrderID: orderID}, SendOptions{})
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func containsChannel(list []Channel, ch Channel) bool {
	for _, c := range list {
		if c == ch {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
