package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

// Event types delivered on the processor's push path.
const (
	EventTypeIntentSucceeded = "payment_intent.succeeded"
	EventTypeIntentFailed    = "payment_intent.payment_failed"
	EventTypeChargeRefunded  = "charge.refunded"
)

// PaymentEvent is the normalized form of a push-path envelope after the
// ingress layer has verified and decoded it.
type PaymentEvent struct {
	ID            string
	Type          string
	IntentRef     string
	TipCents      int64
	Method        domain.PaymentMethod
	FailureReason string
	RefundRef     string
	OccurredAt    time.Time
}

// ReconciliationService aligns the ledger with the processor's authoritative
// payment state. Push and pull arrivals race freely; both funnel into the
// same conditional pending -> resolved transition, so duplicates and
// reorderings collapse to a single order credit.
type ReconciliationService struct {
	log    *slog.Logger
	ledger LedgerRepository
	proc   ProcessorClient
	dedup  EventDeduper
	now    func() time.Time
}

func NewReconciliationService(log *slog.Logger, ledger LedgerRepository, proc ProcessorClient, dedup EventDeduper) *ReconciliationService {
	return &ReconciliationService{
		log:    log,
		ledger: ledger,
		proc:   proc,
		dedup:  dedup,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandlePushEvent applies one processor event. Unknown event types are
// acknowledged and ignored; the processor must not retry them.
func (s *ReconciliationService) HandlePushEvent(ctx context.Context, ev PaymentEvent) error {
	if ev.ID != "" {
		seen, err := s.dedup.Seen(ctx, ev.ID)
		if err != nil {
			// Dedup is a shield, not the source of truth. Fall
			// through to the conditional transition.
			s.log.Warn("event dedup unavailable", "event_id", ev.ID, "err", err)
		} else if seen {
			s.log.Debug("duplicate push event dropped", "event_id", ev.ID, "type", ev.Type)
			return nil
		}
	}

	switch ev.Type {
	case EventTypeIntentSucceeded:
		return s.applySuccess(ctx, ev.IntentRef, ev.Method, ev.TipCents, ev.OccurredAt, "push")
	case EventTypeIntentFailed:
		applied, err := s.ledger.MarkFailed(ctx, ev.IntentRef, ev.FailureReason)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info("payment marked failed", "intent_ref", ev.IntentRef, "reason", Truncate(ev.FailureReason, 200))
		}
		return nil
	case EventTypeChargeRefunded:
		return s.ledger.ConfirmRefundSettled(ctx, ev.RefundRef)
	default:
		s.log.Debug("ignoring push event", "type", ev.Type)
		return nil
	}
}

// ConfirmSuccess is the pull path: triggered when the customer's browser
// lands on the success page. It re-fetches the session from the processor and
// applies the same transition the push path would. A processor outage here is
// an ErrReconciliationMiss, logged for operator replay; the caller still
// renders the confirmation.
func (s *ReconciliationService) ConfirmSuccess(ctx context.Context, orderID, sessionID string) error {
	state, err := s.proc.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		s.log.Error("pull-path re-verify failed",
			"order_id", orderID, "session_id", sessionID, "err", err)
		return fmt.Errorf("%w: %s", ErrReconciliationMiss, sessionID)
	}
	if !state.Paid {
		s.log.Info("session not yet paid on pull path", "order_id", orderID, "session_id", sessionID)
		return nil
	}
	return s.applySuccess(ctx, state.IntentRef, state.Method, state.TipCents, s.now(), "pull")
}

func (s *ReconciliationService) applySuccess(ctx context.Context, intentRef string, method domain.PaymentMethod, tipCents int64, paidAt time.Time, path string) error {
	applied, err := s.ledger.MarkSucceeded(ctx, MarkSucceededParams{
		IntentRef: intentRef,
		Method:    method,
		TipCents:  tipCents,
		PaidAt:    paidAt,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			s.log.Warn("no ledger entry for intent", "intent_ref", intentRef, "path", path)
		}
		return err
	}
	if !applied {
		s.log.Debug("payment already reconciled", "intent_ref", intentRef, "path", path)
		return nil
	}
	s.log.Info("payment reconciled", "intent_ref", intentRef, "path", path, "tip_cents", tipCents)
	return nil
}
