package payments

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

func signedPayload(t *testing.T, eventType, sessionID string) (payload []byte, header string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":{"id":%q,"object":"checkout.session"}}}`,
		stripe.APIVersion, eventType, sessionID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeWebhookVerifierParsesCheckoutEvents(t *testing.T) {
	verifier, err := NewStripeWebhookVerifier(testWebhookSecret, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload, header := signedPayload(t, EventCheckoutSessionCompleted, "cs_42")
	event, err := verifier.Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.SessionID != "cs_42" || event.Type != EventCheckoutSessionCompleted || !event.Actionable() {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStripeWebhookVerifierIgnoresOtherEvents(t *testing.T) {
	verifier, _ := NewStripeWebhookVerifier(testWebhookSecret, 0)

	payload, header := signedPayload(t, "checkout.session.expired", "cs_42")
	event, err := verifier.Parse(payload, header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Actionable() {
		t.Fatalf("expected expired session event to be ignored")
	}
}

func TestStripeWebhookVerifierRejectsBadSignature(t *testing.T) {
	verifier, _ := NewStripeWebhookVerifier("whsec_other", 0)

	payload, header := signedPayload(t, EventCheckoutSessionCompleted, "cs_42")
	if _, err := verifier.Parse(payload, header); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}

func TestNewStripeWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookVerifier(" ", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
