package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/domain"
	"github.com/google/uuid"
)

// SettingProcessorSecret gates every processor call; its absence is a
// ConfigError raised before any persistence.
const SettingProcessorSecret = "processor_secret_key"

type CheckoutIntent struct {
	SessionID   string
	RedirectURL string
}

// CheckoutService opens processor-side customer records and payment sessions
// and seeds the ledger with the matching pending entry.
type CheckoutService struct {
	log      *slog.Logger
	orders   OrderRepository
	ledger   LedgerRepository
	proc     ProcessorClient
	settings SettingsProvider

	successURL string
	cancelURL  string
	now        func() time.Time
}

func NewCheckoutService(log *slog.Logger, orders OrderRepository, ledger LedgerRepository, proc ProcessorClient, settings SettingsProvider, successURL, cancelURL string) *CheckoutService {
	return &CheckoutService{
		log:        log,
		orders:     orders,
		ledger:     ledger,
		proc:       proc,
		settings:   settings,
		successURL: successURL,
		cancelURL:  cancelURL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckoutService) CreateIntent(ctx context.Context, orderID string, amountCents, tipCents int64, email, name string) (CheckoutIntent, error) {
	if amountCents <= 0 {
		return CheckoutIntent{}, &ValidationError{Field: "amount_cents", Reason: "must be positive"}
	}
	if !strings.Contains(email, "@") {
		return CheckoutIntent{}, &ValidationError{Field: "customer_email", Reason: "not a deliverable address"}
	}

	// Fail fast on missing credentials, before any row is written.
	if _, err := s.settings.Get(ctx, SettingProcessorSecret); err != nil {
		return CheckoutIntent{}, &ConfigError{Key: SettingProcessorSecret}
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return CheckoutIntent{}, err
	}

	kind := domain.KindBalance
	if order.DepositOutstanding() {
		kind = domain.KindDeposit
	}

	pending, err := s.ledger.HasPending(ctx, orderID, kind)
	if err != nil {
		return CheckoutIntent{}, err
	}
	if pending {
		return CheckoutIntent{}, ErrPendingExists
	}

	customerRef := order.ProcessorCustomer
	if customerRef == "" {
		customerRef, err = s.proc.CreateCustomer(ctx, email, name, orderID)
		if err != nil {
			return CheckoutIntent{}, err
		}
		if err := s.orders.SetProcessorCustomer(ctx, orderID, customerRef); err != nil {
			return CheckoutIntent{}, err
		}
	}

	// The processor substitutes the session id into the success redirect,
	// which is what lets the pull path re-fetch the session.
	session, err := s.proc.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerRef: customerRef,
		OrderID:     orderID,
		AmountCents: amountCents,
		TipCents:    tipCents,
		Description: fmt.Sprintf("Bounce house booking %s payment", kind),
		SuccessURL:  fmt.Sprintf("%s?order_id=%s&session_id={CHECKOUT_SESSION_ID}", s.successURL, orderID),
		CancelURL:   fmt.Sprintf("%s?order_id=%s", s.cancelURL, orderID),
	})
	if err != nil {
		return CheckoutIntent{}, err
	}

	entry := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Kind:        kind,
		AmountCents: amountCents,
		Status:      domain.PaymentPending,
		IntentRef:   session.IntentRef,
		SessionID:   session.ID,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.InsertPending(ctx, entry); err != nil {
		return CheckoutIntent{}, err
	}

	s.log.Info("checkout session created",
		"order_id", orderID, "kind", kind, "amount_cents", amountCents,
		"tip_cents", tipCents, "session_id", session.ID)

	return CheckoutIntent{SessionID: session.ID, RedirectURL: session.URL}, nil
}
