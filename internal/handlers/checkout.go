package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sweet-shop/api/internal/platform/auth"
	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/services"
)

const (
	maxCheckoutRequestBody = 32 * 1024
	maxVerifyRequestBody   = 2 * 1024
)

// CheckoutHandlers exposes order placement and card payment endpoints.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderLifecycleService
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards order creation with the given Idempotency-Key middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers. Order routes require Firebase authentication
// when authn is set; verification is keyed by the session id alone.
func NewCheckoutHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireFirebaseAuth())
		}
		create := http.Handler(http.HandlerFunc(h.createOrder))
		if h.idempotency != nil {
			create = h.idempotency(create)
		}
		group.Method(http.MethodPost, "/orders", create)
		group.Post("/orders/{orderID}:pay", h.requestPayment)
	})
	r.Post("/verify", h.verifyPayment)
}

type createOrderRequest struct {
	CustomerName     string                   `json:"customerName"`
	CustomerEmail    string                   `json:"customerEmail"`
	Delivery         deliveryRequest          `json:"delivery"`
	EmergencyContact *emergencyContactRequest `json:"emergencyContact"`
	PaymentMethod    string                   `json:"paymentMethod"`
	Items            []cartItemRequest        `json:"items"`
}

type deliveryRequest struct {
	Type       string `json:"type"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Zip        string `json:"zip"`
	LocationID string `json:"locationId"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

type emergencyContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type paymentSessionResponse struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type verifyPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

type verifyPaymentResponse struct {
	Paid           bool   `json:"paid"`
	State          string `json:"state"`
	AlreadyApplied bool   `json:"alreadyApplied"`
	OrderID        string `json:"orderId,omitempty"`
	Status         string `json:"status,omitempty"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Delivery: services.DeliveryInput{
			Type:       req.Delivery.Type,
			Address:    req.Delivery.Address,
			City:       req.Delivery.City,
			Zip:        req.Delivery.Zip,
			LocationID: req.Delivery.LocationID,
			Date:       req.Delivery.Date,
			Time:       req.Delivery.Time,
		},
		PaymentMethod: req.PaymentMethod,
		Items:         make([]services.CartItemInput, 0, len(req.Items)),
	}
	// The account email wins so the order shows up in the caller's history.
	if email := strings.TrimSpace(identity.Email); email != "" {
		cmd.CustomerEmail = email
	}
	if contact := req.EmergencyContact; contact != nil {
		cmd.EmergencyContact = &services.EmergencyContactInput{Name: contact.Name, Phone: contact.Phone, Email: contact.Email}
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CartItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) requestPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	email, ok := requireCustomerEmail(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	session, err := h.orders.RequestPaymentSession(ctx, services.RequestPaymentSessionCommand{
		OrderID:    orderID,
		ActorEmail: email,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentSessionResponse{
		OrderID:   session.OrderID,
		SessionID: session.SessionID,
		URL:       session.RedirectURL,
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

func (h *CheckoutHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, maxVerifyRequestBody, &req) {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.VerifyPayment(ctx, sessionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := verifyPaymentResponse{
		Paid:           result.Paid,
		State:          string(result.State),
		AlreadyApplied: result.AlreadyApplied,
	}
	if result.Order != nil {
		resp.OrderID = result.Order.ID
		resp.Status = string(result.Order.Status)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
