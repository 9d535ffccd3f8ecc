package domain

import "time"

type OrderStatus string

const (
	StatusDraft         OrderStatus = "draft"
	StatusPendingReview OrderStatus = "pending_review"
	StatusConfirmed     OrderStatus = "confirmed"
	StatusEnRoute       OrderStatus = "en_route"
	StatusDelivered     OrderStatus = "delivered"
	StatusCompleted     OrderStatus = "completed"
	StatusCancelled     OrderStatus = "cancelled"
)

// Cancellable reports whether an order in the given status may still be
// cancelled. Once the delivery crew is on the road the booking is committed.
func Cancellable(s OrderStatus) bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusConfirmed:
		return true
	}
	return false
}

type Order struct {
	ID                 string
	Status             OrderStatus
	CustomerEmail      string
	CustomerName       string
	EventStart         time.Time
	EventEnd           time.Time
	SubtotalCents      int64
	FeeCents           int64
	TaxCents           int64
	TipCents           int64
	DepositDueCents    int64
	DepositPaidCents   int64
	BalanceDueCents    int64
	BalancePaidCents   int64
	TotalRefundedCents int64
	ProcessorCustomer  string
	ProcessorMethod    string
	CancelReason       string
	CancelledAt        *time.Time
	CancelledBy        string
	RefundPolicy       string
	RefundMessage      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TotalCents is the full price of the booking including tip.
func (o Order) TotalCents() int64 {
	return o.SubtotalCents + o.FeeCents + o.TaxCents + o.TipCents
}

// DepositOutstanding reports whether the next payment on this order should be
// treated as a deposit rather than a balance payment.
func (o Order) DepositOutstanding() bool {
	return o.DepositPaidCents < o.DepositDueCents
}
