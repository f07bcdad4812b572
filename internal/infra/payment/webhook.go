package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/pledgeloop/pledge/internal/domain"
)

// ChargeEvent is a verified webhook notification about a charge.
type ChargeEvent struct {
	EventID  string
	Type     string
	IntentID string
	Status   domain.PaymentStatus
}

// ErrIgnoredEvent is returned for verified events that carry no charge update.
var ErrIgnoredEvent = errors.New("ignored webhook event")

// eventStatus maps payment_intent.* event types to a charge status.
var eventStatus = map[string]domain.PaymentStatus{
	"payment_intent.succeeded":       domain.PaymentSucceeded,
	"payment_intent.payment_failed":  domain.PaymentFailed,
	"payment_intent.canceled":        domain.PaymentCanceled,
	"payment_intent.requires_action": domain.PaymentRequiresAction,
	"payment_intent.processing":      domain.PaymentProcessing,
}

// ParseWebhook verifies the Stripe-Signature header and extracts the charge
// update. Events of other types return ErrIgnoredEvent.
func ParseWebhook(payload []byte, signature, secret string) (ChargeEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return ChargeEvent{}, fmt.Errorf("verify webhook: %w", err)
	}

	typ := string(evt.Type)
	status, ok := eventStatus[typ]
	if !ok {
		return ChargeEvent{EventID: evt.ID, Type: typ}, ErrIgnoredEvent
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return ChargeEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.ID == "" {
		return ChargeEvent{}, fmt.Errorf("webhook %s: payment intent has no id", evt.ID)
	}
	return ChargeEvent{EventID: evt.ID, Type: typ, IntentID: pi.ID, Status: status}, nil
}
