package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

const minCancelReasonLen = 10

type CancelOutcome struct {
	Policy        domain.RefundPolicy
	Message       string
	HoursUntil    float64
	Refund        RefundResult
	RefundAttempt bool
}

// CancellationService orchestrates cancellation: policy decision, order
// transition, refund, and customer/operator notification. Only the policy
// decision and the order transition can fail the request; everything after is
// best effort by design.
type CancellationService struct {
	log      *slog.Logger
	orders   OrderRepository
	policy   *domain.PolicyEngine
	refunds  *RefundExecutor
	notifier Notifier
	now      func() time.Time
}

func NewCancellationService(log *slog.Logger, orders OrderRepository, policy *domain.PolicyEngine, refunds *RefundExecutor, notifier Notifier) *CancellationService {
	return &CancellationService{
		log:      log,
		orders:   orders,
		policy:   policy,
		refunds:  refunds,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *CancellationService) Cancel(ctx context.Context, orderID, reason, actor string, override *bool) (CancelOutcome, error) {
	if len(reason) < minCancelReasonLen {
		return CancelOutcome{}, &ValidationError{Field: "reason", Reason: fmt.Sprintf("must be at least %d characters", minCancelReasonLen)}
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return CancelOutcome{}, err
	}
	if !domain.Cancellable(order.Status) {
		return CancelOutcome{}, ErrNotCancellable
	}

	now := s.now()
	decision := s.policy.Decide(order.EventStart, now, override)

	applied, err := s.orders.MarkCancelled(ctx, orderID, reason, actor, decision, now)
	if err != nil {
		return CancelOutcome{}, err
	}
	if !applied {
		// Lost the race or the crew already left.
		return CancelOutcome{}, ErrNotCancellable
	}

	outcome := CancelOutcome{
		Policy:     decision.Policy,
		Message:    decision.Message,
		HoursUntil: domain.HoursUntil(order.EventStart, now),
	}

	if decision.Refundable {
		outcome.RefundAttempt = true
		outcome.Refund, err = s.refunds.Execute(ctx, orderID, decision, reason)
		if err != nil {
			// Cancellation stands; report the refund failure to the
			// caller and the operator.
			outcome.Refund = RefundResult{Refunded: false, Error: Truncate(err.Error(), 200)}
		}
	}

	s.notifyCancelled(ctx, order, outcome)
	return outcome, nil
}

func (s *CancellationService) notifyCancelled(ctx context.Context, order domain.Order, outcome CancelOutcome) {
	body := fmt.Sprintf("Your booking %s has been cancelled. %s", order.ID, outcome.Message)
	if err := s.notifier.SendEmail(ctx, order.CustomerEmail, "Booking cancelled", body, order.ID); err != nil {
		s.log.Warn("cancellation notice not delivered", "order_id", order.ID, "err", err)
	}

	if outcome.RefundAttempt && !outcome.Refund.Refunded && outcome.Refund.Error != "" {
		alert := fmt.Sprintf("Refund failed for cancelled order %s: %s", order.ID, outcome.Refund.Error)
		if err := s.notifier.AlertOperator(ctx, "Refund failure", alert, order.ID); err != nil {
			s.log.Error("operator alert not delivered", "order_id", order.ID, "err", err)
		}
	}
}
