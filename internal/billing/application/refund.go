package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
	"github.com/google/uuid"
)

type RefundResult struct {
	Refunded    bool
	AmountCents int64
	RefundRef   string
	Error       string
}

// RefundExecutor issues refunds against the running ledger. The refundable
// amount is read under the order row lock and stays locked across the
// processor call, so two concurrent cancellations cannot both issue money.
type RefundExecutor struct {
	log    *slog.Logger
	ledger LedgerRepository
	proc   ProcessorClient
	now    func() time.Time
}

func NewRefundExecutor(log *slog.Logger, ledger LedgerRepository, proc ProcessorClient) *RefundExecutor {
	return &RefundExecutor{
		log:    log,
		ledger: ledger,
		proc:   proc,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute refunds the order's full refundable amount. Callers invoke it only
// for refundable policy decisions. A processor failure leaves the ledger
// untouched and is reported in the result, never as a hard error: the
// cancellation it belongs to must still stand.
func (e *RefundExecutor) Execute(ctx context.Context, orderID string, decision domain.RefundDecision, reason string) (RefundResult, error) {
	if !decision.Refundable {
		return RefundResult{Refunded: false}, nil
	}

	tx, err := e.ledger.BeginRefund(ctx, orderID)
	if err != nil {
		return RefundResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	amount := tx.RefundableCents()
	if amount <= 0 {
		e.log.Info("nothing left to refund", "order_id", orderID)
		return RefundResult{Refunded: false, AmountCents: 0}, nil
	}

	target, ok := tx.Target()
	if !ok {
		return RefundResult{}, ErrPaymentNotFound
	}

	intent, err := e.proc.GetPaymentIntent(ctx, target.IntentRef)
	if err != nil {
		return e.failed(orderID, err), nil
	}
	if intent.Status != "succeeded" || intent.AmountReceived <= 0 {
		e.log.Error("intent not in refundable state",
			"order_id", orderID, "intent_ref", target.IntentRef, "status", intent.Status)
		return RefundResult{Refunded: false, Error: "payment is not in a refundable state at the processor"}, nil
	}

	outcome, err := e.proc.CreateRefund(ctx, target.IntentRef, amount, reason, orderID)
	if err != nil {
		return e.failed(orderID, err), nil
	}

	now := e.now()
	entry := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Kind:        domain.KindRefund,
		AmountCents: -amount,
		Status:      domain.PaymentSucceeded,
		IntentRef:   target.IntentRef,
		CreatedAt:   now,
		PaidAt:      &now,
	}
	audit := domain.Refund{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		PaymentID:          target.ID,
		AmountCents:        amount,
		Reason:             reason,
		ProcessorRefundRef: outcome.Ref,
		Status:             outcome.Status,
		CreatedAt:          now,
	}
	if err := tx.Commit(ctx, entry, audit); err != nil {
		// Money moved at the processor but the ledger write failed.
		// Surface loudly; the refund ref is the recovery handle.
		e.log.Error("refund issued but ledger commit failed",
			"order_id", orderID, "refund_ref", outcome.Ref, "err", err)
		return RefundResult{}, err
	}

	e.log.Info("refund issued",
		"order_id", orderID, "amount_cents", amount, "refund_ref", outcome.Ref)
	return RefundResult{Refunded: true, AmountCents: amount, RefundRef: outcome.Ref}, nil
}

func (e *RefundExecutor) failed(orderID string, err error) RefundResult {
	e.log.Error("refund attempt failed", "order_id", orderID, "err", err)
	return RefundResult{Refunded: false, Error: Truncate(err.Error(), 200)}
}
