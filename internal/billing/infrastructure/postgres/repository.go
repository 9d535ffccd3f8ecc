package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/application"
	"github.com/bouncehq/bookingpay/internal/billing/domain"
	"github.com/bouncehq/bookingpay/pkg/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const orderColumns = `id, status, customer_email, customer_name, event_start, event_end,
	subtotal_cents, fee_cents, tax_cents, tip_cents,
	deposit_due_cents, deposit_paid_cents, balance_due_cents, balance_paid_cents,
	total_refunded_cents, processor_customer, processor_method,
	cancel_reason, cancelled_at, cancelled_by, refund_policy, refund_message,
	created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Status, &o.CustomerEmail, &o.CustomerName, &o.EventStart, &o.EventEnd,
		&o.SubtotalCents, &o.FeeCents, &o.TaxCents, &o.TipCents,
		&o.DepositDueCents, &o.DepositPaidCents, &o.BalanceDueCents, &o.BalancePaidCents,
		&o.TotalRefundedCents, &o.ProcessorCustomer, &o.ProcessorMethod,
		&o.CancelReason, &o.CancelledAt, &o.CancelledBy, &o.RefundPolicy, &o.RefundMessage,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, application.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *Repository) SetProcessorCustomer(ctx context.Context, orderID, customerRef string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET processor_customer=$2, updated_at=now() WHERE id=$1`, orderID, customerRef)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrOrderNotFound
	}
	return nil
}

// MarkCancelled is a conditional transition: only orders still in the
// pre-fulfillment set move to cancelled, so the first of two racing
// cancellations wins and the loser sees applied=false.
func (r *Repository) MarkCancelled(ctx context.Context, orderID, reason, actor string, decision domain.RefundDecision, at time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET status='cancelled', cancel_reason=$2, cancelled_by=$3, cancelled_at=$4,
		    refund_policy=$5, refund_message=$6, updated_at=now()
		WHERE id=$1 AND status IN ('draft','pending_review','confirmed')`,
		orderID, reason, actor, at, string(decision.Policy), decision.Message)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Rollback(ctx)
	}

	payload, _ := json.Marshal(domain.OrderCancelledEvent{
		OrderID:      orderID,
		Reason:       reason,
		RefundPolicy: decision.Policy,
		CancelledBy:  actor,
	})
	if err := insertOutbox(ctx, tx, "order", orderID, domain.EventOrderCancelled, payload); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) HasPending(ctx context.Context, orderID string, kind domain.PaymentKind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE order_id=$1 AND kind=$2 AND status='pending')`,
		orderID, kind).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertPending(ctx context.Context, p domain.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, kind, amount_cents, status, intent_ref, session_id, created_at)
		VALUES ($1,$2,$3,$4,'pending',$5,$6,$7)`,
		p.ID, p.OrderID, p.Kind, p.AmountCents, p.IntentRef, p.SessionID, p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		// The partial unique index on (order_id, kind) WHERE
		// status='pending' caught a concurrent intent.
		return application.ErrPendingExists
	}
	return err
}

func (r *Repository) GetByIntentRef(ctx context.Context, intentRef string) (domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, kind, amount_cents, status, intent_ref, session_id,
		       method_type, method_brand, method_last4, created_at, paid_at
		FROM payments WHERE intent_ref=$1`, intentRef).
		Scan(&p.ID, &p.OrderID, &p.Kind, &p.AmountCents, &p.Status, &p.IntentRef, &p.SessionID,
			&p.MethodType, &p.MethodBrand, &p.MethodLast4, &p.CreatedAt, &p.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, application.ErrPaymentNotFound
	}
	return p, err
}

// MarkSucceeded performs the monotonic pending -> succeeded transition and
// credits the order, all in one transaction. The UPDATE's status guard is
// what makes racing push/pull arrivals idempotent: the second writer matches
// zero rows and leaves the order untouched.
func (r *Repository) MarkSucceeded(ctx context.Context, params application.MarkSucceededParams) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		paymentID string
		orderID   string
		kind      domain.PaymentKind
		amount    int64
	)
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status='succeeded', paid_at=$2, method_type=$3, method_brand=$4, method_last4=$5
		WHERE intent_ref=$1 AND status='pending'
		RETURNING id, order_id, kind, amount_cents`,
		params.IntentRef, params.PaidAt, params.Method.Type, params.Method.Brand, params.Method.Last4).
		Scan(&paymentID, &orderID, &kind, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE intent_ref=$1)`, params.IntentRef).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, application.ErrPaymentNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	paidColumn := "balance_paid_cents"
	if kind == domain.KindDeposit {
		paidColumn = "deposit_paid_cents"
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET `+paidColumn+` = `+paidColumn+` + $2,
		    tip_cents = tip_cents + $3,
		    processor_method = $4,
		    status = CASE WHEN status='draft' THEN 'pending_review' ELSE status END,
		    updated_at = now()
		WHERE id=$1`,
		orderID, amount, params.TipCents, params.Method.Brand+" "+params.Method.Last4)
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(domain.PaymentSucceededEvent{
		OrderID:     orderID,
		PaymentID:   paymentID,
		Kind:        kind,
		AmountCents: amount,
		TipCents:    params.TipCents,
	})
	if err := insertOutbox(ctx, tx, "order", orderID, domain.EventPaymentSucceeded, payload); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) MarkFailed(ctx context.Context, intentRef, reason string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var paymentID, orderID string
	err = tx.QueryRow(ctx, `
		UPDATE payments SET status='failed'
		WHERE intent_ref=$1 AND status='pending'
		RETURNING id, order_id`, intentRef).Scan(&paymentID, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(domain.PaymentFailedEvent{OrderID: orderID, PaymentID: paymentID, Reason: reason})
	if err := insertOutbox(ctx, tx, "order", orderID, domain.EventPaymentFailed, payload); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) ConfirmRefundSettled(ctx context.Context, refundRef string) error {
	if refundRef == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE refunds SET status='settled' WHERE processor_refund_ref=$1 AND status <> 'settled'`, refundRef)
	return err
}

// BeginRefund locks the order row and snapshots the refundable amount and
// the refund target. The lock is held until Commit or Rollback, which is what
// serializes concurrent cancellations down to a single issued refund.
func (r *Repository) BeginRefund(ctx context.Context, orderID string) (application.RefundTx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}

	var totalRefunded int64
	err = tx.QueryRow(ctx,
		`SELECT total_refunded_cents FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&totalRefunded)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, application.ErrOrderNotFound
		}
		return nil, err
	}

	var totalSucceeded int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payments
		WHERE order_id=$1 AND status='succeeded' AND amount_cents > 0`, orderID).Scan(&totalSucceeded)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	rt := &refundTx{tx: tx, orderID: orderID, refundable: totalSucceeded - totalRefunded}

	var p domain.Payment
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, kind, amount_cents, status, intent_ref, session_id, created_at, paid_at
		FROM payments
		WHERE order_id=$1 AND status='succeeded' AND amount_cents > 0 AND intent_ref <> ''
		ORDER BY paid_at DESC NULLS LAST, created_at DESC
		LIMIT 1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.Kind, &p.AmountCents, &p.Status, &p.IntentRef, &p.SessionID, &p.CreatedAt, &p.PaidAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No target; RefundableCents will be <= 0 in any consistent ledger.
	case err != nil:
		_ = tx.Rollback(ctx)
		return nil, err
	default:
		rt.target, rt.hasTarget = p, true
	}
	return rt, nil
}

type refundTx struct {
	tx         pgx.Tx
	orderID    string
	refundable int64
	target     domain.Payment
	hasTarget  bool
	done       bool
}

func (t *refundTx) RefundableCents() int64 { return t.refundable }

func (t *refundTx) Target() (domain.Payment, bool) { return t.target, t.hasTarget }

func (t *refundTx) Commit(ctx context.Context, entry domain.Payment, audit domain.Refund) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, kind, amount_cents, status, intent_ref, created_at, paid_at)
		VALUES ($1,$2,'refund',$3,'succeeded',$4,$5,$6)`,
		entry.ID, entry.OrderID, entry.AmountCents, entry.IntentRef, entry.CreatedAt, entry.PaidAt)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO refunds (id, order_id, payment_id, amount_cents, reason, processor_refund_ref, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		audit.ID, audit.OrderID, audit.PaymentID, audit.AmountCents, audit.Reason,
		audit.ProcessorRefundRef, audit.Status, audit.CreatedAt)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE orders SET total_refunded_cents = total_refunded_cents + $2, updated_at=now()
		WHERE id=$1`, t.orderID, audit.AmountCents)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(domain.PaymentRefundedEvent{
		OrderID:     audit.OrderID,
		PaymentID:   audit.PaymentID,
		AmountCents: audit.AmountCents,
		RefundRef:   audit.ProcessorRefundRef,
	})
	if err := insertOutbox(ctx, t.tx, "order", t.orderID, domain.EventPaymentRefunded, payload); err != nil {
		return err
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *refundTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	return t.tx.Rollback(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO billing_outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		aggregateType, aggregateID, eventType, payload, tracing.TraceparentFromContext(ctx))
	return err
}
