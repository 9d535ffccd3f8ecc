package notify

import (
	"fmt"
	"strings"
)

type template struct {
	subject string
	body    string
}

// Built-in message templates. Placeholders use {name} and are replaced from
// the params map; unknown placeholders are left intact for triage.
var templates = map[string]template{
	"booking_confirmed": {
		subject: "Your bounce house booking is confirmed",
		body:    "Hi {customer_name}, your booking {order_id} is confirmed for {event_date}. See you there!",
	},
	"booking_cancelled": {
		subject: "Your booking has been cancelled",
		body:    "Hi {customer_name}, your booking {order_id} has been cancelled. {refund_message}",
	},
	"refund_issued": {
		subject: "Your refund is on its way",
		body:    "Hi {customer_name}, a refund of ${amount} for booking {order_id} has been issued to your original payment method.",
	},
}

// RenderTemplate resolves a template key and substitutes params.
func RenderTemplate(key string, params map[string]string) (subject, body string, err error) {
	t, ok := templates[key]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", key)
	}
	body = t.body
	subject = t.subject
	for k, v := range params {
		body = strings.ReplaceAll(body, "{"+k+"}", v)
		subject = strings.ReplaceAll(subject, "{"+k+"}", v)
	}
	return subject, body, nil
}
