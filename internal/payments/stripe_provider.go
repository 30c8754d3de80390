package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/sweet-shop/api/internal/domain"
)

const stripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements Provider on top of Stripe Checkout and Refunds.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession creates a Stripe Checkout session in payment mode whose metadata links it to the order.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}
	currency := strings.ToLower(domain.NormalizeCurrency(req.Currency))
	metadata := map[string]string{"order_id": req.OrderID}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID},
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(domain.ToMinorUnits(item.UnitPrice)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(domain.ToMinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderID),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Session{}, stripeGatewayError("create_session", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Session{
		ID:          session.ID,
		Provider:    stripeProviderName,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// GetSessionStatus retrieves a checkout session and normalises its payment state.
func (p *StripeProvider) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if p == nil {
		return SessionStatus{}, errors.New("stripe: provider is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionStatus{}, &GatewayError{Provider: stripeProviderName, Op: "get_session", Reason: "session id is required"}
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		return SessionStatus{}, stripeGatewayError("get_session", err)
	}
	return stripeSessionStatus(session), nil
}

func stripeSessionStatus(session *stripe.CheckoutSession) SessionStatus {
	if session == nil {
		return SessionStatus{}
	}
	state := SessionUnpaid
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		state = SessionPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		state = SessionExpired
	}

	orderID := strings.TrimSpace(session.Metadata["order_id"])
	if orderID == "" {
		orderID = strings.TrimSpace(session.ClientReferenceID)
	}
	reference := ""
	if session.PaymentIntent != nil {
		reference = session.PaymentIntent.ID
	}
	return SessionStatus{
		SessionID:        session.ID,
		State:            state,
		OrderID:          orderID,
		PaymentReference: reference,
		AmountTotal:      domain.FromMinorUnits(session.AmountTotal),
		Currency:         strings.ToUpper(string(session.Currency)),
	}
}

// Refund refunds a captured payment intent. Refunds Stripe reports as failed or canceled are errors.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	if p == nil {
		return Refund{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.PaymentReference)
	if reference == "" {
		return Refund{}, &GatewayError{Provider: stripeProviderName, Op: "refund", Reason: "payment reference is required"}
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(reference),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(domain.ToMinorUnits(req.Amount))
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return Refund{}, stripeGatewayError("refund", err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		reason := string(refund.Status)
		if refund.FailureReason != "" {
			reason += ": " + string(refund.FailureReason)
		}
		return Refund{}, &GatewayError{Provider: stripeProviderName, Op: "refund", Reason: reason}
	}

	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": reference,
		"refundId":      refund.ID,
		"status":        refund.Status,
	})
	return Refund{
		ID:       refund.ID,
		Amount:   domain.FromMinorUnits(refund.Amount),
		Currency: strings.ToUpper(string(refund.Currency)),
		Status:   string(refund.Status),
	}, nil
}

func stripeGatewayError(op string, err error) error {
	gwErr := &GatewayError{Provider: stripeProviderName, Op: op, Reason: err.Error(), Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		reason := strings.TrimSpace(stripeErr.Msg)
		if stripeErr.Code != "" {
			reason = strings.TrimSpace(string(stripeErr.Code) + " " + reason)
		}
		if reason != "" {
			gwErr.Reason = reason
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		gwErr.Timeout = true
	}
	return gwErr
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
