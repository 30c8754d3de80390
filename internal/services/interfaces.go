package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/payments"
)

// OrderLifecycleService drives an order from checkout through payment to fulfilment or refund.
// Every mutation returns the stored post-transition record.
type OrderLifecycleService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	RequestPaymentSession(ctx context.Context, cmd RequestPaymentSessionCommand) (PaymentSession, error)
	VerifyPayment(ctx context.Context, sessionID string) (PaymentVerification, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	CancelAndRefund(ctx context.Context, cmd CancelAndRefundCommand) (RefundOutcome, error)

	GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	ListCustomerOrders(ctx context.Context, query CustomerOrdersQuery) (domain.OrderPage, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.OrderPage, error)

	// Wait blocks until post-commit notifications finish or ctx ends.
	Wait(ctx context.Context) error
}

// StorefrontService exposes the read-only checkout configuration.
type StorefrontService interface {
	DeliverySettings(ctx context.Context) (domain.DeliverySettings, error)
	PickupLocations(ctx context.Context) ([]domain.PickupLocation, error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	CustomerName     string                 `validate:"required,max=100"`
	CustomerEmail    string                 `validate:"required,email,max=255"`
	Delivery         DeliveryInput
	EmergencyContact *EmergencyContactInput `validate:"omitempty"`
	PaymentMethod    string                 `validate:"omitempty,oneof=card cash"`
	Items            []CartItemInput        `validate:"required,min=1,max=50,dive"`
}

type DeliveryInput struct {
	Type       string `validate:"required,oneof=shipping pickup"`
	Address    string `validate:"required_if=Type shipping,max=200"`
	City       string `validate:"required_if=Type shipping,max=100"`
	Zip        string `validate:"required_if=Type shipping,max=20"`
	LocationID string `validate:"required_if=Type pickup,max=100"`
	Date       string `validate:"required_if=Type pickup,omitempty,datetime=2006-01-02"`
	Time       string `validate:"required_if=Type pickup,omitempty,datetime=15:04"`
}

type EmergencyContactInput struct {
	Name  string `validate:"required,max=100"`
	Phone string `validate:"required,max=30"`
	Email string `validate:"omitempty,email,max=255"`
}

type CartItemInput struct {
	ProductID string `validate:"required,max=100"`
	Quantity  int    `validate:"min=1,max=99"`
}

type RequestPaymentSessionCommand struct {
	OrderID string
	// ActorEmail, when set, must own the order.
	ActorEmail string
}

type PaymentSession struct {
	OrderID     string
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// PaymentVerification reports the gateway's view of a session and the resulting order.
type PaymentVerification struct {
	Paid           bool
	State          payments.SessionState
	AlreadyApplied bool
	Order          *domain.Order
	// Refund is set when the session was paid after the order was cancelled and the charge
	// has been refunded.
	Refund *RefundOutcome
}

type AdvanceStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

type CancelOrderCommand struct {
	OrderID    string
	ActorEmail string
}

type CancelAndRefundCommand struct {
	OrderID string
	ActorID string
}

type RefundOutcome struct {
	Order    domain.Order
	RefundID string
	Amount   decimal.Decimal
	Status   string
}

type GetOrderQuery struct {
	OrderID string
	// ActorEmail scopes the read to the customer's own orders when set.
	ActorEmail string
}

type CustomerOrdersQuery struct {
	CustomerEmail string
	PageSize      int
	PageToken     string
}

type OrderListQuery struct {
	Statuses  []string
	PageSize  int
	PageToken string
}
