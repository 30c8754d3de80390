package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/platform/auth"
	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/services"
)

const maxAdminStatusBody = 1024

// AdminOrderHandlers exposes the back-office order endpoints. Every route requires the admin role.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderLifecycleService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderLifecycleService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:status", h.advanceStatus)
	r.Post("/orders/{orderID}:refund", h.cancelAndRefund)
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

type refundResponse struct {
	Order    orderPayload `json:"order"`
	RefundID string       `json:"refundId,omitempty"`
	Amount   string       `json:"amount"`
	Status   string       `json:"status,omitempty"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	params, ok := parseListParams(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		Statuses:  params.Statuses,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: strings.TrimSpace(chi.URLParam(r, "orderID"))})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req advanceStatusRequest
	if !decodeJSONBody(w, r, maxAdminStatusBody, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  req.Status,
		ActorID: actorID(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelAndRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	outcome, err := h.orders.CancelAndRefund(ctx, services.CancelAndRefundCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: actorID(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, refundResponse{
		Order:    buildOrderPayload(outcome.Order),
		RefundID: outcome.RefundID,
		Amount:   domain.RoundMoney(outcome.Amount).StringFixed(domain.MoneyScale),
		Status:   outcome.Status,
	})
}

// actorID prefers the admin's email for the audit trail and falls back to the uid.
func actorID(identity *auth.Identity) string {
	if email := strings.TrimSpace(identity.Email); email != "" {
		return email
	}
	return identity.UID
}
