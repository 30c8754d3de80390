package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sweet-shop/api/internal/platform/auth"
	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/services"
)

// MeOrderHandlers exposes the signed-in customer's own orders.
type MeOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderLifecycleService
}

// NewMeOrderHandlers constructs customer order handlers.
func NewMeOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService) *MeOrderHandlers {
	return &MeOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /me/orders endpoints.
func (h *MeOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
}

func (h *MeOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	email, ok := requireCustomerEmail(ctx, w)
	if !ok {
		return
	}
	params, ok := parseListParams(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListCustomerOrders(ctx, services.CustomerOrdersQuery{
		CustomerEmail: email,
		PageSize:      params.PageSize,
		PageToken:     params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *MeOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	email, ok := requireCustomerEmail(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorEmail: email,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *MeOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	email, ok := requireCustomerEmail(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorEmail: email,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
