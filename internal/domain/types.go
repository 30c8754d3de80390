package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits online payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPendingCash indicates the order will be paid in cash at pickup.
	OrderStatusPendingCash OrderStatus = "pending_cash"
	// OrderStatusPaid indicates the payment provider confirmed the charge.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusConfirmed indicates the shop accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the desserts are being made.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusProcessing indicates the order is being packed for shipping.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the shop with a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the order is closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled, with or without a refund.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var knownOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:     {},
	OrderStatusPendingCash: {},
	OrderStatusPaid:        {},
	OrderStatusConfirmed:   {},
	OrderStatusPreparing:   {},
	OrderStatusReady:       {},
	OrderStatusProcessing:  {},
	OrderStatusShipped:     {},
	OrderStatusDelivered:   {},
	OrderStatusCompleted:   {},
	OrderStatusCancelled:   {},
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	_, ok := knownOrderStatuses[s]
	return ok
}

// AwaitingPayment reports whether the order has not been paid yet.
func (s OrderStatus) AwaitingPayment() bool {
	return s == OrderStatusPending || s == OrderStatusPendingCash
}

// PaymentMethod identifies how the customer settles the order.
type PaymentMethod string

const (
	// PaymentMethodCard settles the order through the online payment provider.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCash settles the order in person at pickup.
	PaymentMethodCash PaymentMethod = "cash"
)

// Order is the persisted order header together with its owned line items.
type Order struct {
	ID               string
	CustomerName     string
	CustomerEmail    string
	Total            decimal.Decimal
	Currency         string
	Delivery         Delivery
	EmergencyContact *EmergencyContact
	PaymentMethod    PaymentMethod
	Status           OrderStatus
	PaymentReference *string
	Refund           *RefundState
	Items            []OrderItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	CancelledAt      *time.Time
	CompletedAt      *time.Time
}

// HasPaymentReference reports whether a captured payment is linked to the order.
func (o Order) HasPaymentReference() bool {
	return o.PaymentReference != nil && *o.PaymentReference != ""
}

// OrderItem snapshots a product line at order creation time.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns quantity multiplied by the snapshotted unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return RoundMoney(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// EmergencyContact is an optional secondary contact for the order.
type EmergencyContact struct {
	Name  string
	Phone string
	Email string
}

// RefundState tracks the refund claimed for an order.
// A non-nil state without CompletedAt is a refund in flight.
type RefundState struct {
	ClaimedAt   time.Time
	ClaimedBy   string
	CompletedAt *time.Time
	RefundID    string
	Amount      decimal.Decimal
	Status      string
}

// InFlight reports whether a refund has been claimed but not confirmed.
func (r *RefundState) InFlight() bool {
	return r != nil && r.CompletedAt == nil
}

// Product is the catalog entry used as the price source during checkout.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Active bool
}

// PickupLocation is a shop location customers may collect orders from.
type PickupLocation struct {
	ID           string
	Name         string
	Address      string
	City         string
	Zip          string
	Instructions string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeliverySettings gates which delivery types checkout offers.
type DeliverySettings struct {
	ShippingEnabled bool
	PickupEnabled   bool
	UpdatedAt       time.Time
}

// Allows reports whether the delivery type is currently offered.
func (s DeliverySettings) Allows(kind DeliveryType) bool {
	switch kind {
	case DeliveryTypeShipping:
		return s.ShippingEnabled
	case DeliveryTypePickup:
		return s.PickupEnabled
	default:
		return false
	}
}

// OrderPage is a page of orders returned by list queries.
type OrderPage struct {
	Items         []Order
	NextPageToken string
}
