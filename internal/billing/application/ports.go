package application

import (
	"context"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

type OrderRepository interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	SetProcessorCustomer(ctx context.Context, orderID, customerRef string) error
	// MarkCancelled transitions the order to cancelled and records the
	// cancellation metadata, but only if the order is still in a
	// cancellable status. Returns false when another request won the race
	// or the order is past the cancellable set.
	MarkCancelled(ctx context.Context, orderID, reason, actor string, decision domain.RefundDecision, at time.Time) (bool, error)
}

// MarkSucceededParams carries everything the ledger needs to settle a pending
// entry and credit the order in one transaction.
type MarkSucceededParams struct {
	IntentRef string
	Method    domain.PaymentMethod
	TipCents  int64
	PaidAt    time.Time
}

type LedgerRepository interface {
	HasPending(ctx context.Context, orderID string, kind domain.PaymentKind) (bool, error)
	InsertPending(ctx context.Context, p domain.Payment) error
	GetByIntentRef(ctx context.Context, intentRef string) (domain.Payment, error)
	// MarkSucceeded applies the monotonic pending -> succeeded transition
	// and, only when the transition fires, increments the order's paid
	// fields, captures the method descriptor and advances draft orders to
	// pending_review. Returns false when the entry was already resolved.
	MarkSucceeded(ctx context.Context, p MarkSucceededParams) (bool, error)
	// MarkFailed applies pending -> failed. No order fields change.
	MarkFailed(ctx context.Context, intentRef, reason string) (bool, error)
	// ConfirmRefundSettled records the processor-side settlement of a
	// previously issued refund. No-op if the refund ref is unknown.
	ConfirmRefundSettled(ctx context.Context, refundRef string) error
	// BeginRefund opens a transaction holding the order row lock, so the
	// refundable amount read here stays true until Commit or Rollback.
	BeginRefund(ctx context.Context, orderID string) (RefundTx, error)
}

// RefundTx is the locked read-compute-write window for issuing a refund.
type RefundTx interface {
	// RefundableCents is total succeeded payments minus the running
	// refunded total, as of the lock.
	RefundableCents() int64
	// Target is the most recent succeeded payment carrying an intent ref.
	Target() (domain.Payment, bool)
	// Commit inserts the refund ledger entry and audit row and bumps the
	// order's refunded total, then releases the lock.
	Commit(ctx context.Context, entry domain.Payment, audit domain.Refund) error
	Rollback(ctx context.Context) error
}

// CheckoutSessionParams describes the hosted payment page to create.
type CheckoutSessionParams struct {
	CustomerRef string
	OrderID     string
	AmountCents int64
	TipCents    int64
	Description string
	SuccessURL  string
	CancelURL   string
}

type CheckoutSession struct {
	ID        string
	URL       string
	IntentRef string
}

// SessionState is the processor's authoritative view of a session, fetched on
// the pull path.
type SessionState struct {
	ID          string
	IntentRef   string
	Paid        bool
	AmountCents int64
	TipCents    int64
	Method      domain.PaymentMethod
}

type IntentState struct {
	Ref            string
	Status         string
	AmountReceived int64
}

type RefundOutcome struct {
	Ref    string
	Status string
}

type ProcessorClient interface {
	CreateCustomer(ctx context.Context, email, name, orderID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (SessionState, error)
	GetPaymentIntent(ctx context.Context, intentRef string) (IntentState, error)
	CreateRefund(ctx context.Context, intentRef string, amountCents int64, reason, orderID string) (RefundOutcome, error)
}

// Notifier is the slice of the notification dispatcher the billing flows
// need. Failures inside the dispatcher escalate on their own; callers treat
// an error as "customer did not get the message" and move on.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body, orderID string) error
	AlertOperator(ctx context.Context, subject, body, orderID string) error
}

type SettingsProvider interface {
	Get(ctx context.Context, key string) (string, error)
}

// EventDeduper remembers processor event ids for a bounded window so webhook
// redeliveries can be dropped before touching the database. The conditional
// ledger transition stays the source of truth; this is a fast-path shield.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}
