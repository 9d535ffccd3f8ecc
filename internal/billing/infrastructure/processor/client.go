// Package processor talks to the hosted-checkout payment processor over its
// form-encoded HTTP API. Credentials come from the settings provider on every
// call, so key rotation needs no restart.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/application"
	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

// SettingWebhookSecret signs push-path envelopes; the API secret key is
// application.SettingProcessorSecret, shared with the checkout fail-fast
// pre-check.
const (
	SettingWebhookSecret = "processor_webhook_secret"

	providerName = "processor"
)

type Client struct {
	log      *slog.Logger
	http     *http.Client
	baseURL  string
	settings application.SettingsProvider
}

func NewClient(log *slog.Logger, settings application.SettingsProvider, baseURL string) *Client {
	return &Client{
		log:      log,
		http:     &http.Client{Timeout: 15 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		settings: settings,
	}
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type customerResp struct {
	ID string `json:"id"`
}

type sessionResp struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
	PaymentMethod struct {
		Type string `json:"type"`
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method"`
}

type intentResp struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AmountReceived int64  `json:"amount_received"`
}

type refundResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateCustomer(ctx context.Context, email, name, orderID string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)
	form.Set("metadata[order_id]", orderID)

	var resp customerResp
	if err := c.post(ctx, "/v1/customers", form, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p application.CheckoutSessionParams) (application.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer", p.CustomerRef)
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata[order_id]", p.OrderID)
	form.Set("metadata[tip_cents]", strconv.FormatInt(p.TipCents, 10))
	form.Set("payment_intent_data[metadata][order_id]", p.OrderID)
	form.Set("payment_intent_data[metadata][tip_cents]", strconv.FormatInt(p.TipCents, 10))

	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.Description)
	if p.TipCents > 0 {
		form.Set("line_items[1][quantity]", "1")
		form.Set("line_items[1][price_data][currency]", "usd")
		form.Set("line_items[1][price_data][unit_amount]", strconv.FormatInt(p.TipCents, 10))
		form.Set("line_items[1][price_data][product_data][name]", "Crew tip")
	}

	var resp sessionResp
	if err := c.post(ctx, "/v1/checkout/sessions", form, &resp); err != nil {
		return application.CheckoutSession{}, err
	}
	return application.CheckoutSession{ID: resp.ID, URL: resp.URL, IntentRef: resp.PaymentIntent}, nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (application.SessionState, error) {
	var resp sessionResp
	if err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID)+"?expand[]=payment_method", &resp); err != nil {
		return application.SessionState{}, err
	}

	tip, _ := strconv.ParseInt(resp.Metadata["tip_cents"], 10, 64)
	return application.SessionState{
		ID:          resp.ID,
		IntentRef:   resp.PaymentIntent,
		Paid:        resp.PaymentStatus == "paid",
		AmountCents: resp.AmountTotal,
		TipCents:    tip,
		Method: domain.PaymentMethod{
			Type:  resp.PaymentMethod.Type,
			Brand: resp.PaymentMethod.Card.Brand,
			Last4: resp.PaymentMethod.Card.Last4,
		},
	}, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, intentRef string) (application.IntentState, error) {
	var resp intentResp
	if err := c.get(ctx, "/v1/payment_intents/"+url.PathEscape(intentRef), &resp); err != nil {
		return application.IntentState{}, err
	}
	return application.IntentState{Ref: resp.ID, Status: resp.Status, AmountReceived: resp.AmountReceived}, nil
}

func (c *Client) CreateRefund(ctx context.Context, intentRef string, amountCents int64, reason, orderID string) (application.RefundOutcome, error) {
	form := url.Values{}
	form.Set("payment_intent", intentRef)
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("metadata[order_id]", orderID)
	form.Set("metadata[reason]", application.Truncate(reason, 500))

	var resp refundResp
	if err := c.post(ctx, "/v1/refunds", form, &resp); err != nil {
		return application.RefundOutcome{}, err
	}
	return application.RefundOutcome{Ref: resp.ID, Status: resp.Status}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	key, err := c.settings.Get(req.Context(), application.SettingProcessorSecret)
	if err != nil || key == "" {
		return &application.ConfigError{Key: application.SettingProcessorSecret}
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return &application.ProviderError{Provider: providerName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &application.ProviderError{Provider: providerName, Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return &application.ProviderError{Provider: providerName, Op: op, Err: errors.New(apiErr.Error.Message)}
		}
		return &application.ProviderError{Provider: providerName, Op: op,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &application.ProviderError{Provider: providerName, Op: op, Err: err}
	}
	return nil
}
