package domain

import (
	"fmt"
	"time"
)

type RefundPolicy string

const (
	PolicyFullRefund       RefundPolicy = "full_refund"
	PolicyRescheduleCredit RefundPolicy = "reschedule_credit"
	PolicyNoRefund         RefundPolicy = "no_refund"
)

// FullRefundWindow is the minimum notice, counted back from the event start,
// that still qualifies for an automatic full refund.
const FullRefundWindow = 72 * time.Hour

// CreditValidity bounds how long a retained payment may be applied to a
// rescheduled booking.
const CreditValidity = 90 * 24 * time.Hour

// RefundDecision is transient: recomputed on every cancellation and never
// persisted beyond the order's cancellation metadata.
type RefundDecision struct {
	Policy     RefundPolicy
	Refundable bool
	Message    string
}

// PolicyEngine decides refund eligibility from event timing. Same-day checks
// compare calendar dates in the business time zone, so a midnight-straddling
// "47 hours out" cancellation is judged by the local date, not the gap.
type PolicyEngine struct {
	loc *time.Location
}

func NewPolicyEngine(loc *time.Location) *PolicyEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyEngine{loc: loc}
}

// Decide maps event timing and an optional operator override to a refund
// decision. It is total over all timestamp inputs and performs no I/O.
func (e *PolicyEngine) Decide(eventStart, now time.Time, override *bool) RefundDecision {
	if override != nil {
		if *override {
			return RefundDecision{
				Policy:     PolicyFullRefund,
				Refundable: true,
				Message:    "A full refund has been approved for your cancellation.",
			}
		}
		return RefundDecision{
			Policy:     PolicyNoRefund,
			Refundable: false,
			Message:    "This cancellation is not eligible for a refund.",
		}
	}

	if eventStart.Sub(now) >= FullRefundWindow {
		return RefundDecision{
			Policy:     PolicyFullRefund,
			Refundable: true,
			Message:    "Cancelled more than 72 hours before the event. A full refund will be issued to your original payment method.",
		}
	}

	ey, em, ed := eventStart.In(e.loc).Date()
	ny, nm, nd := now.In(e.loc).Date()
	if ey == ny && em == nm && ed == nd {
		return RefundDecision{
			Policy:     PolicyNoRefund,
			Refundable: false,
			Message:    "Same-day cancellations are not eligible for a refund.",
		}
	}

	days := int(CreditValidity.Hours() / 24)
	return RefundDecision{
		Policy:     PolicyRescheduleCredit,
		Refundable: false,
		Message: fmt.Sprintf(
			"Cancelled within 72 hours of the event. Your payment will be held as a one-time credit valid for %d days toward a rescheduled booking.", days),
	}
}

// HoursUntil is the (possibly negative) number of hours from now until the
// event start, reported to callers alongside the decision.
func HoursUntil(eventStart, now time.Time) float64 {
	return eventStart.Sub(now).Hours()
}
