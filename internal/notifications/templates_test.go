package notifications

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sweet-shop/api/internal/domain"
)

func sampleOrder() domain.Order {
	return domain.Order{
		ID:            "ord_01jabcdefghxyz",
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Total:         decimal.RequireFromString("19.98"),
		Currency:      "EUR",
		PaymentMethod: domain.PaymentMethodCard,
		Status:        domain.OrderStatusPaid,
		Delivery:      domain.PickupDelivery{LocationID: "loc_1", Date: "2026-10-20", Time: "10:30"},
		Items: []domain.OrderItem{
			{ProductID: "p1", ProductName: "Macaron box", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
		},
		CreatedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestShortOrderID(t *testing.T) {
	assert.Equal(t, "01JABCDE", ShortOrderID("ord_01jabcdefghxyz"))
	assert.Equal(t, "ABC", ShortOrderID("abc"))
}

func TestRenderAdminOrderReceived(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	msg, err := renderer.Render(AudienceAdmins, TemplateOrderReceived, sampleOrder(), Extras{}, &domain.PickupLocation{Name: "Old Town Kitchen", Address: "3 Rue Royale", City: "Lyon"})
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "New Order #01JABCDE - ")
	assert.Contains(t, msg.Subject, "19.98")
	assert.Contains(t, msg.HTML, "ana@example.com")
	assert.Contains(t, msg.Text, "Old Town Kitchen")
	assert.Contains(t, msg.Text, "Macaron box 2")
	assert.NotContains(t, msg.Text, "<td>")
}

func TestRenderCustomerStatusUpdateUsesStatusCopy(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	order := sampleOrder()
	order.Status = domain.OrderStatusShipped
	order.Delivery = domain.ShippingDelivery{Address: "1 Main", City: "Lyon", Zip: "69001"}

	msg, err := renderer.Render(AudienceCustomer, TemplateStatusUpdate, order, Extras{PreviousStatus: domain.OrderStatusProcessing}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Order Update: Order Shipped - #01JABCDE", msg.Subject)
	assert.Contains(t, msg.Text, "Your order is on its way! It will arrive soon.")
	assert.Contains(t, msg.Text, "1 Main, Lyon, 69001")
}

func TestRenderCancellationIncludesRefund(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	order := sampleOrder()
	order.Status = domain.OrderStatusCancelled
	refund := decimal.RequireFromString("19.98")

	msg, err := renderer.Render(AudienceCustomer, TemplateCancellation, order, Extras{RefundAmount: &refund}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Order Cancelled - #01JABCDE", msg.Subject)
	assert.Contains(t, msg.Text, "Refunded:")
	assert.Contains(t, msg.Text, "A refund of")
}

func TestRenderUnknownStatusFallsBack(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	order := sampleOrder()
	order.Status = domain.OrderStatusPendingCash
	msg, err := renderer.Render(AudienceCustomer, TemplateStatusUpdate, order, Extras{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Order Update: Order Update - #01JABCDE", msg.Subject)
}

func TestRenderRejectsUnknownTemplate(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	_, err = renderer.Render(AudienceCustomer, Template("newsletter"), sampleOrder(), Extras{}, nil)
	assert.Error(t, err)
}
