package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/application"
	"github.com/bouncehq/bookingpay/internal/billing/infrastructure/processor"
	"github.com/bouncehq/bookingpay/internal/notify"
	"github.com/bouncehq/bookingpay/internal/settings"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	log        *slog.Logger
	checkout   *application.CheckoutService
	recon      *application.ReconciliationService
	cancel     *application.CancellationService
	dispatcher *notify.Dispatcher
	health     notify.HealthTracker
	settings   application.SettingsProvider
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, checkout *application.CheckoutService, recon *application.ReconciliationService, cancel *application.CancellationService, dispatcher *notify.Dispatcher, health notify.HealthTracker, settings application.SettingsProvider) *Handler {
	return &Handler{
		log:        log,
		checkout:   checkout,
		recon:      recon,
		cancel:     cancel,
		dispatcher: dispatcher,
		health:     health,
		settings:   settings,
		tracer:     otel.Tracer("billing-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/checkout/intent", h.createIntent)
	r.Get("/api/checkout/success", h.successPage)
	r.Get("/api/checkout/cancelled", h.cancelPage)
	r.Post("/api/orders/{id}/cancel", h.cancelOrder)
	r.Post("/api/webhooks/payments", h.paymentWebhook)
	r.Post("/api/notifications/send", h.sendNotification)
	r.Get("/api/notifications/health", h.notificationHealth)
	return r
}

type createIntentReq struct {
	OrderID       string `json:"order_id"`
	AmountCents   int64  `json:"amount_cents"`
	TipCents      int64  `json:"tip_cents"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
}

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateIntent")
	defer span.End()

	var req createIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	intent, err := h.checkout.CreateIntent(ctx, req.OrderID, req.AmountCents, req.TipCents, req.CustomerEmail, req.CustomerName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": intent.SessionID,
		"url":        intent.RedirectURL,
	})
}

// successPage triggers pull-path reconciliation as a side effect and renders
// the confirmation regardless: the money already moved at the processor.
func (h *Handler) successPage(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CheckoutSuccess")
	defer span.End()

	orderID := r.URL.Query().Get("order_id")
	sessionID := r.URL.Query().Get("session_id")

	if sessionID != "" {
		if err := h.recon.ConfirmSuccess(ctx, orderID, sessionID); err != nil {
			h.log.Error("pull-path reconciliation failed", "order_id", orderID, "session_id", sessionID, "err", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, successHTML, orderID)
}

func (h *Handler) cancelPage(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, cancelHTML, orderID)
}

type cancelOrderReq struct {
	Reason              string `json:"reason"`
	CancelledBy         string `json:"cancelled_by"`
	AdminOverrideRefund *bool  `json:"admin_override_refund"`
}

type refundResultResp struct {
	Refunded    bool   `json:"refunded"`
	AmountCents int64  `json:"amount_cents"`
	RefundRef   string `json:"refund_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	orderID := chi.URLParam(r, "id")

	var req cancelOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	actor := req.CancelledBy
	if actor == "" {
		actor = "customer"
	}

	outcome, err := h.cancel.Cancel(ctx, orderID, req.Reason, actor, req.AdminOverrideRefund)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"refund_policy":     outcome.Policy,
		"refund_message":    outcome.Message,
		"hours_until_event": outcome.HoursUntil,
		"refund_result": refundResultResp{
			Refunded:    outcome.Refund.Refunded,
			AmountCents: outcome.Refund.AmountCents,
			RefundRef:   outcome.Refund.RefundRef,
			Error:       outcome.Refund.Error,
		},
	})
}

// paymentWebhook is the push-path ingress. It answers 400 only when the
// signature fails and 500 when the secret cannot be looked up; domain-level
// processing errors are logged and still acknowledged so the processor does
// not retry them.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentWebhook")
	defer span.End()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	secret, err := h.settings.Get(ctx, processor.SettingWebhookSecret)
	var cfgErr *application.ConfigError
	switch {
	case err == nil && secret != "":
		if err := processor.VerifySignature(payload, r.Header.Get(processor.SignatureHeader), secret, time.Now()); err != nil {
			h.log.Error("webhook signature rejected", "err", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
			return
		}
	case err == nil, errors.Is(err, settings.ErrNotFound), errors.As(err, &cfgErr):
		h.log.Warn("processing unverified webhook: no webhook secret configured")
	default:
		// Transient settings failure. Fail closed so the processor retries.
		h.log.Error("webhook secret lookup failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "secret lookup failed"})
		return
	}

	ev, err := processor.ParseEvent(payload)
	if err != nil {
		h.log.Error("webhook parse failed", "err", err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.recon.HandlePushEvent(ctx, ev); err != nil {
		h.log.Error("webhook processing failed", "event_id", ev.ID, "type", ev.Type, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type sendNotificationReq struct {
	To           string            `json:"to"`
	Channel      string            `json:"channel"`
	Message      string            `json:"message"`
	Subject      string            `json:"subject"`
	TemplateKey  string            `json:"template_key"`
	Params       map[string]string `json:"params"`
	OrderID      string            `json:"order_id"`
	SkipFallback bool              `json:"skip_fallback"`
}

func (h *Handler) sendNotification(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SendNotification")
	defer span.End()

	var req sendNotificationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to is required"})
		return
	}

	ch := notify.Channel(req.Channel)
	if ch != notify.ChannelSMS && ch != notify.ChannelEmail {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel must be sms or email"})
		return
	}

	subject, body := req.Subject, req.Message
	if req.TemplateKey != "" {
		var err error
		subject, body, err = notify.RenderTemplate(req.TemplateKey, req.Params)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message or template_key is required"})
		return
	}

	res := h.dispatcher.Send(ctx, ch, notify.Message{
		To:      req.To,
		Subject: subject,
		Body:    body,
		OrderID: req.OrderID,
	}, notify.SendOptions{SkipFallback: req.SkipFallback})

	if !res.Success {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": res.Error, "escalated": res.Escalated})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel_message_id": res.MessageID})
}

func (h *Handler) notificationHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]bool{}
	for _, ch := range []notify.Channel{notify.ChannelSMS, notify.ChannelEmail} {
		degraded, err := h.health.Degraded(ctx, ch)
		if err != nil {
			h.log.Warn("health lookup failed", "channel", ch, "err", err)
		}
		out[string(ch)+"_degraded"] = degraded
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		valErr  *application.ValidationError
		cfgErr  *application.ConfigError
		provErr *application.ProviderError
	)
	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Error()})
	case errors.Is(err, application.ErrNotCancellable), errors.Is(err, application.ErrPendingExists):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, application.ErrOrderNotFound), errors.Is(err, application.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &cfgErr):
		h.log.Error("configuration error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": cfgErr.Error()})
	case errors.As(err, &provErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": provErr.Error()})
	default:
		h.log.Error("unhandled error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const successHTML = `<!doctype html>
<html><head><title>Payment received</title></head>
<body>
<h1>Thank you!</h1>
<p>Your payment for booking %s has been received. A confirmation is on its way.</p>
</body></html>
`

const cancelHTML = `<!doctype html>
<html><head><title>Checkout cancelled</title></head>
<body>
<h1>Checkout cancelled</h1>
<p>No payment was taken for booking %s. You can restart checkout at any time.</p>
</body></html>
`
