package domain

// Billing events published to the admin dashboard stream via the outbox.

const (
	EventPaymentSucceeded = "order.payment_succeeded"
	EventPaymentFailed    = "order.payment_failed"
	EventOrderCancelled   = "order.cancelled"
	EventPaymentRefunded  = "payment.refunded"
)

type PaymentSucceededEvent struct {
	OrderID     string      `json:"order_id"`
	PaymentID   string      `json:"payment_id"`
	Kind        PaymentKind `json:"kind"`
	AmountCents int64       `json:"amount_cents"`
	TipCents    int64       `json:"tip_cents"`
}

type PaymentFailedEvent struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

type OrderCancelledEvent struct {
	OrderID      string       `json:"order_id"`
	Reason       string       `json:"reason"`
	RefundPolicy RefundPolicy `json:"refund_policy"`
	CancelledBy  string       `json:"cancelled_by"`
}

type PaymentRefundedEvent struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
	RefundRef   string `json:"refund_ref"`
}
