package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bouncehq/bookingpay/internal/billing/application"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSettings map[string]string

func (s staticSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", &application.ConfigError{Key: key}
	}
	return v, nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(testLogger(), staticSettings{application.SettingProcessorSecret: "sk_test_123"}, srv.URL)
}

func TestCreateCheckoutSession_SendsFormAndAuth(t *testing.T) {
	var gotAuth string
	var gotForm map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Write([]byte(`{"id":"cs_1","url":"https://pay.example/cs_1","payment_intent":"pi_1"}`))
	}))

	sess, err := c.CreateCheckoutSession(context.Background(), application.CheckoutSessionParams{
		OrderID:     "ord-1",
		CustomerRef: "cus_1",
		AmountCents: 20000,
		TipCents:    500,
		Description: "Bounce house deposit",
		SuccessURL:  "https://book.example/success",
		CancelURL:   "https://book.example/cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "pi_1", sess.IntentRef)

	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, []string{"20000"}, gotForm["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"500"}, gotForm["line_items[1][price_data][unit_amount]"])
	assert.Equal(t, []string{"ord-1"}, gotForm["payment_intent_data[metadata][order_id]"])
}

func TestCreateCheckoutSession_NoTipLineItemWhenZero(t *testing.T) {
	var gotForm map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Write([]byte(`{"id":"cs_1","url":"u","payment_intent":"pi_1"}`))
	}))

	_, err := c.CreateCheckoutSession(context.Background(), application.CheckoutSessionParams{
		OrderID: "ord-1", AmountCents: 20000,
	})
	require.NoError(t, err)
	assert.NotContains(t, gotForm, "line_items[1][price_data][unit_amount]")
}

func TestGetCheckoutSession_Paid(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		w.Write([]byte(`{
			"id": "cs_1",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"amount_total": 20500,
			"metadata": {"tip_cents": "500"},
			"payment_method": {"type": "card", "card": {"brand": "visa", "last4": "4242"}}
		}`))
	}))

	state, err := c.GetCheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.True(t, state.Paid)
	assert.Equal(t, "pi_1", state.IntentRef)
	assert.Equal(t, int64(500), state.TipCents)
	assert.Equal(t, "visa", state.Method.Brand)
}

func TestClient_MissingCredentialIsConfigError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the processor without a key")
	}))
	t.Cleanup(srv.Close)
	c := NewClient(testLogger(), staticSettings{}, srv.URL)

	_, err := c.GetPaymentIntent(context.Background(), "pi_1")
	var cfgErr *application.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, application.SettingProcessorSecret, cfgErr.Key)
}

func TestClient_APIErrorSurfacesMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","message":"Charge has already been refunded."}}`))
	}))

	_, err := c.CreateRefund(context.Background(), "pi_1", 20000, "weather", "ord-1")
	var provErr *application.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Error(), "already been refunded")
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))

	_, err := c.GetPaymentIntent(context.Background(), "pi_1")
	var provErr *application.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Error(), "unexpected status 502")
}

func TestClient_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := NewClient(testLogger(), staticSettings{application.SettingProcessorSecret: "sk_test_123"}, srv.URL)

	_, err := c.GetPaymentIntent(context.Background(), "pi_1")
	var provErr *application.ProviderError
	assert.True(t, errors.As(err, &provErr))
}
