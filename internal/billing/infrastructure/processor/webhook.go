package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bouncehq/bookingpay/internal/billing/application"
	"github.com/bouncehq/bookingpay/internal/billing/domain"
)

// SignatureHeader carries the processor's webhook signature:
// "t=<unix>,v1=<hex hmac-sha256 of 't.payload'>".
const SignatureHeader = "Processor-Signature"

const signatureTolerance = 5 * time.Minute

var ErrBadSignature = errors.New("webhook signature verification failed")

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type intentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	PaymentMethodDetails struct {
		Type string `json:"type"`
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"refunds"`
}

// VerifySignature checks the signed envelope against the shared secret,
// rejecting stale timestamps to blunt replay.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(unix, 0)); d > signatureTolerance || d < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// ParseEvent decodes a push envelope into the normalized form the
// reconciliation engine consumes.
func ParseEvent(payload []byte) (application.PaymentEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return application.PaymentEvent{}, fmt.Errorf("malformed event envelope: %w", err)
	}

	ev := application.PaymentEvent{
		ID:         env.ID,
		Type:       env.Type,
		OccurredAt: time.Unix(env.Created, 0).UTC(),
	}

	switch env.Type {
	case application.EventTypeIntentSucceeded, application.EventTypeIntentFailed:
		var obj intentObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return application.PaymentEvent{}, fmt.Errorf("malformed intent object: %w", err)
		}
		ev.IntentRef = obj.ID
		ev.FailureReason = obj.LastPaymentError.Message
		ev.TipCents, _ = strconv.ParseInt(obj.Metadata["tip_cents"], 10, 64)
		ev.Method = domain.PaymentMethod{
			Type:  obj.PaymentMethodDetails.Type,
			Brand: obj.PaymentMethodDetails.Card.Brand,
			Last4: obj.PaymentMethodDetails.Card.Last4,
		}
	case application.EventTypeChargeRefunded:
		var obj chargeObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return application.PaymentEvent{}, fmt.Errorf("malformed charge object: %w", err)
		}
		ev.IntentRef = obj.PaymentIntent
		if n := len(obj.Refunds.Data); n > 0 {
			ev.RefundRef = obj.Refunds.Data[n-1].ID
		}
	}
	return ev, nil
}
