package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/platform/requestctx"
	"github.com/sweet-shop/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookVerifier authenticates a provider webhook delivery.
type WebhookVerifier interface {
	Parse(payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentWebhookHandlers turns provider checkout events into payment verification.
type PaymentWebhookHandlers struct {
	verifier WebhookVerifier
	orders   services.OrderLifecycleService
}

// NewPaymentWebhookHandlers constructs the Stripe webhook endpoint.
func NewPaymentWebhookHandlers(verifier WebhookVerifier, orders services.OrderLifecycleService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{verifier: verifier, orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	Ignored  bool   `json:"ignored,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Refunded bool   `json:"refunded,omitempty"`
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errBodyTooLarge.Error(), http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.Parse(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	logger := requestctx.Logger(ctx).With(zap.String("eventId", event.ID), zap.String("eventType", event.Type))
	if !event.Actionable() {
		logger.Debug("payment webhook ignored")
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true})
		return
	}

	result, err := h.orders.VerifyPayment(ctx, event.SessionID)
	if err != nil {
		// Unknown sessions belong to some other integration; acknowledging stops redelivery.
		if errors.Is(err, services.ErrNotFound) {
			logger.Warn("payment webhook for unknown order", zap.String("sessionId", event.SessionID), zap.Error(err))
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true})
			return
		}
		logger.Error("payment webhook verification failed", zap.String("sessionId", event.SessionID), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}

	resp := webhookAckResponse{Received: true, Refunded: result.Refund != nil}
	if result.Order != nil {
		resp.OrderID = result.Order.ID
	}
	if resp.Refunded {
		logger.Warn("payment arrived after cancellation and was refunded",
			zap.String("sessionId", event.SessionID),
			zap.String("orderId", resp.OrderID),
			zap.String("refundId", result.Refund.RefundID),
		)
	}
	logger.Info("payment webhook processed",
		zap.String("sessionId", event.SessionID),
		zap.Bool("paid", result.Paid),
		zap.Bool("alreadyApplied", result.AlreadyApplied),
	)
	writeJSONResponse(w, http.StatusOK, resp)
}
