package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/platform/auth"
	"github.com/sweet-shop/api/internal/services"
)

type stubOrderService struct {
	createFunc       func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	paymentFunc      func(context.Context, services.RequestPaymentSessionCommand) (services.PaymentSession, error)
	verifyFunc       func(context.Context, string) (services.PaymentVerification, error)
	advanceFunc      func(context.Context, services.AdvanceStatusCommand) (domain.Order, error)
	cancelFunc       func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	refundFunc       func(context.Context, services.CancelAndRefundCommand) (services.RefundOutcome, error)
	getFunc          func(context.Context, services.GetOrderQuery) (domain.Order, error)
	listCustomerFunc func(context.Context, services.CustomerOrdersQuery) (domain.OrderPage, error)
	listOrdersFunc   func(context.Context, services.OrderListQuery) (domain.OrderPage, error)
}

var _ services.OrderLifecycleService = (*stubOrderService)(nil)

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) RequestPaymentSession(ctx context.Context, cmd services.RequestPaymentSessionCommand) (services.PaymentSession, error) {
	if s.paymentFunc != nil {
		return s.paymentFunc(ctx, cmd)
	}
	return services.PaymentSession{}, nil
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, sessionID string) (services.PaymentVerification, error) {
	if s.verifyFunc != nil {
		return s.verifyFunc(ctx, sessionID)
	}
	return services.PaymentVerification{}, nil
}

func (s *stubOrderService) AdvanceStatus(ctx context.Context, cmd services.AdvanceStatusCommand) (domain.Order, error) {
	if s.advanceFunc != nil {
		return s.advanceFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) CancelAndRefund(ctx context.Context, cmd services.CancelAndRefundCommand) (services.RefundOutcome, error) {
	if s.refundFunc != nil {
		return s.refundFunc(ctx, cmd)
	}
	return services.RefundOutcome{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (domain.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) ListCustomerOrders(ctx context.Context, query services.CustomerOrdersQuery) (domain.OrderPage, error) {
	if s.listCustomerFunc != nil {
		return s.listCustomerFunc(ctx, query)
	}
	return domain.OrderPage{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.OrderListQuery) (domain.OrderPage, error) {
	if s.listOrdersFunc != nil {
		return s.listOrdersFunc(ctx, query)
	}
	return domain.OrderPage{}, nil
}

func (s *stubOrderService) Wait(context.Context) error { return nil }

func customerContext(ctx context.Context) context.Context {
	return auth.WithIdentity(ctx, &auth.Identity{UID: "user-1", Email: "ana@example.com", Roles: []string{auth.RoleCustomer}})
}

func sampleOrder(id string, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:            id,
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Total:         decimal.RequireFromString("19.98"),
		Currency:      "eur",
		Delivery:      domain.PickupDelivery{LocationID: "loc-1", Date: "2026-10-20", Time: "10:30"},
		PaymentMethod: domain.PaymentMethodCard,
		Status:        status,
		Items: []domain.OrderItem{
			{ProductID: "eclair", ProductName: "Eclair", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
		},
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCodeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, rr, &body)
	code, _ := body["error"].(string)
	return code
}
