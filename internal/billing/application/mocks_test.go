package application

import (
	"context"
	"sync"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

// Fixed mid-day instant so timing-sensitive cases cannot straddle midnight.
var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

// In-memory fakes for the ports, shared across the service tests.

type mockOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	cancelled map[string]domain.RefundDecision
}

func newMockOrders(orders ...domain.Order) *mockOrders {
	m := &mockOrders{
		orders:    make(map[string]domain.Order),
		cancelled: make(map[string]domain.RefundDecision),
	}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrders) Get(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (m *mockOrders) SetProcessorCustomer(_ context.Context, orderID, customerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.ProcessorCustomer = customerRef
	m.orders[orderID] = o
	return nil
}

func (m *mockOrders) MarkCancelled(_ context.Context, orderID, reason, actor string, decision domain.RefundDecision, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if !domain.Cancellable(o.Status) {
		return false, nil
	}
	o.Status = domain.StatusCancelled
	o.CancelReason = reason
	o.CancelledBy = actor
	o.CancelledAt = &at
	o.RefundPolicy = string(decision.Policy)
	o.RefundMessage = decision.Message
	m.orders[orderID] = o
	m.cancelled[orderID] = decision
	return true, nil
}

type mockLedger struct {
	mu       sync.Mutex
	payments map[string]domain.Payment // by intent ref
	refunds  []domain.Refund
	entries  []domain.Payment // refund entries committed
	orders   *mockOrders

	// order credit bookkeeping applied on MarkSucceeded
	depositPaid map[string]int64
	tipPaid     map[string]int64
}

func newMockLedger(orders *mockOrders) *mockLedger {
	return &mockLedger{
		payments:    make(map[string]domain.Payment),
		orders:      orders,
		depositPaid: make(map[string]int64),
		tipPaid:     make(map[string]int64),
	}
}

func (m *mockLedger) HasPending(_ context.Context, orderID string, kind domain.PaymentKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Kind == kind && p.Status == domain.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLedger) InsertPending(_ context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.OrderID == p.OrderID && existing.Kind == p.Kind && existing.Status == domain.PaymentPending {
			return ErrPendingExists
		}
	}
	m.payments[p.IntentRef] = p
	return nil
}

func (m *mockLedger) GetByIntentRef(_ context.Context, intentRef string) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[intentRef]
	if !ok {
		return domain.Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (m *mockLedger) MarkSucceeded(_ context.Context, params MarkSucceededParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[params.IntentRef]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if p.Status != domain.PaymentPending {
		return false, nil
	}
	p.Status = domain.PaymentSucceeded
	paidAt := params.PaidAt
	p.PaidAt = &paidAt
	p.MethodType = params.Method.Type
	p.MethodBrand = params.Method.Brand
	p.MethodLast4 = params.Method.Last4
	m.payments[params.IntentRef] = p

	m.depositPaid[p.OrderID] += p.AmountCents
	m.tipPaid[p.OrderID] += params.TipCents
	return true, nil
}

func (m *mockLedger) MarkFailed(_ context.Context, intentRef, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[intentRef]
	if !ok || p.Status != domain.PaymentPending {
		return false, nil
	}
	p.Status = domain.PaymentFailed
	m.payments[intentRef] = p
	return true, nil
}

func (m *mockLedger) ConfirmRefundSettled(_ context.Context, refundRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.refunds {
		if r.ProcessorRefundRef == refundRef {
			m.refunds[i].Status = "settled"
		}
	}
	return nil
}

func (m *mockLedger) BeginRefund(_ context.Context, orderID string) (RefundTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalSucceeded, totalRefunded int64
	var target domain.Payment
	var hasTarget bool
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == domain.PaymentSucceeded && p.AmountCents > 0 {
			totalSucceeded += p.AmountCents
			if p.IntentRef != "" {
				target, hasTarget = p, true
			}
		}
	}
	for _, r := range m.refunds {
		if r.OrderID == orderID {
			totalRefunded += r.AmountCents
		}
	}
	return &mockRefundTx{
		ledger:     m,
		refundable: totalSucceeded - totalRefunded,
		target:     target,
		hasTarget:  hasTarget,
	}, nil
}

type mockRefundTx struct {
	ledger     *mockLedger
	refundable int64
	target     domain.Payment
	hasTarget  bool
}

func (t *mockRefundTx) RefundableCents() int64         { return t.refundable }
func (t *mockRefundTx) Target() (domain.Payment, bool) { return t.target, t.hasTarget }
func (t *mockRefundTx) Rollback(context.Context) error { return nil }

func (t *mockRefundTx) Commit(_ context.Context, entry domain.Payment, audit domain.Refund) error {
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	t.ledger.entries = append(t.ledger.entries, entry)
	t.ledger.refunds = append(t.ledger.refunds, audit)
	return nil
}

type mockProcessor struct {
	mu sync.Mutex

	customerRef string
	customerErr error
	customers   int

	session    CheckoutSession
	sessionErr error

	sessionState SessionState
	stateErr     error

	intentState IntentState
	intentErr   error

	refundOutcome RefundOutcome
	refundErr     error
	refundCalls   int

	lastSessionParams CheckoutSessionParams
}

func (m *mockProcessor) CreateCustomer(context.Context, string, string, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers++
	return m.customerRef, m.customerErr
}

func (m *mockProcessor) CreateCheckoutSession(_ context.Context, p CheckoutSessionParams) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSessionParams = p
	return m.session, m.sessionErr
}

func (m *mockProcessor) GetCheckoutSession(context.Context, string) (SessionState, error) {
	return m.sessionState, m.stateErr
}

func (m *mockProcessor) GetPaymentIntent(context.Context, string) (IntentState, error) {
	return m.intentState, m.intentErr
}

func (m *mockProcessor) CreateRefund(context.Context, string, int64, string, string) (RefundOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refundCalls++
	return m.refundOutcome, m.refundErr
}

type mockSettings struct {
	values map[string]string
}

func (m *mockSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", &ConfigError{Key: key}
	}
	return v, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	emails   []string
	alerts   []string
	emailErr error
}

func (m *mockNotifier) SendEmail(_ context.Context, to, _, body, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, to+": "+body)
	return m.emailErr
}

func (m *mockNotifier) AlertOperator(_ context.Context, _, body, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, body)
	return nil
}

type mockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMockDeduper() *mockDeduper {
	return &mockDeduper{seen: make(map[string]bool)}
}

func (m *mockDeduper) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[id] {
		return true, nil
	}
	m.seen[id] = true
	return false, nil
}
