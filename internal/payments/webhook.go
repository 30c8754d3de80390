package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidWebhook is returned when a webhook signature or payload cannot be trusted.
var ErrInvalidWebhook = errors.New("payments: invalid webhook")

// Checkout events that mean a session may have been paid.
const (
	EventCheckoutSessionCompleted           = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is the subset of a provider event the order lifecycle reacts to.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Actionable reports whether the event should trigger payment verification.
func (e WebhookEvent) Actionable() bool {
	if e.SessionID == "" {
		return false
	}
	return e.Type == EventCheckoutSessionCompleted || e.Type == EventCheckoutSessionAsyncPaymentSuccess
}

// StripeWebhookVerifier validates Stripe-Signature headers and extracts checkout session ids.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe webhook: signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the signature and decodes the event.
func (v *StripeWebhookVerifier) Parse(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	result := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(result.Type, "checkout.session.") || event.Data == nil {
		return result, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrInvalidWebhook, err)
	}
	result.SessionID = session.ID
	return result, nil
}
