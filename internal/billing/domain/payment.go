package domain

import "time"

type PaymentKind string

const (
	KindDeposit PaymentKind = "deposit"
	KindBalance PaymentKind = "balance"
	KindRefund  PaymentKind = "refund"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one ledger entry: an intended or completed money movement tied to
// an order. Refund entries carry a negative amount and are immutable once
// inserted.
type Payment struct {
	ID          string
	OrderID     string
	Kind        PaymentKind
	AmountCents int64
	Status      PaymentStatus
	IntentRef   string
	SessionID   string
	MethodType  string
	MethodBrand string
	MethodLast4 string
	CreatedAt   time.Time
	PaidAt      *time.Time
}

// PaymentMethod is the descriptor captured from the processor once a payment
// settles.
type PaymentMethod struct {
	Type  string
	Brand string
	Last4 string
}

// Refund is the audit row recorded alongside a refund ledger entry.
type Refund struct {
	ID                 string
	OrderID            string
	PaymentID          string
	AmountCents        int64
	Reason             string
	ProcessorRefundRef string
	Status             string
	CreatedAt          time.Time
}
