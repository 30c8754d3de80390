package repositories

import (
	"context"
	"time"

	domain "github.com/sweet-shop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	PickupLocations() PickupLocationRepository
	DeliverySettings() DeliverySettingsRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their line items.
type OrderRepository interface {
	// Insert stores the order and its items as one record. It fails with a conflict when the id exists.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ConditionalUpdate applies patch only when the stored order satisfies cond. It returns the
	// stored order after the call and whether the patch was applied; a mismatch is not an error.
	ConditionalUpdate(ctx context.Context, orderID string, cond UpdateCondition, patch OrderPatch) (domain.Order, bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OrderPage, error)
}

// UpdateCondition is evaluated against the stored order inside the update's atomic section.
type UpdateCondition struct {
	// Statuses lists the statuses the order may currently be in. Empty means any status.
	Statuses []domain.OrderStatus
	// RefundClaimableBefore, when non-zero, additionally requires the order to carry no refund
	// marker, or an unfinished marker claimed before this instant.
	RefundClaimableBefore time.Time
	// RefundClaimedAt, when non-zero, requires an unfinished refund marker claimed at exactly this instant.
	RefundClaimedAt time.Time
	// PaymentReferenceUnset requires the order to carry no payment reference yet.
	PaymentReferenceUnset bool
}

// Matches reports whether order satisfies the condition.
func (c UpdateCondition) Matches(order domain.Order) bool {
	if len(c.Statuses) > 0 {
		found := false
		for _, status := range c.Statuses {
			if order.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !c.RefundClaimableBefore.IsZero() && order.Refund != nil {
		if !order.Refund.InFlight() || !order.Refund.ClaimedAt.Before(c.RefundClaimableBefore) {
			return false
		}
	}
	if !c.RefundClaimedAt.IsZero() {
		if !order.Refund.InFlight() || !order.Refund.ClaimedAt.Equal(c.RefundClaimedAt) {
			return false
		}
	}
	if c.PaymentReferenceUnset && order.HasPaymentReference() {
		return false
	}
	return true
}

// OrderPatch lists the fields a conditional update writes. Nil fields are left untouched.
type OrderPatch struct {
	Status           *domain.OrderStatus
	PaymentReference *string
	Refund           *domain.RefundState
	ClearRefund      bool
	PaidAt           *time.Time
	CancelledAt      *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// Apply returns a copy of order with the patch written onto it.
func (p OrderPatch) Apply(order domain.Order) domain.Order {
	if p.Status != nil {
		order.Status = *p.Status
	}
	if p.PaymentReference != nil {
		ref := *p.PaymentReference
		order.PaymentReference = &ref
	}
	if p.ClearRefund {
		order.Refund = nil
	}
	if p.Refund != nil {
		refund := *p.Refund
		order.Refund = &refund
	}
	if p.PaidAt != nil {
		order.PaidAt = timePtr(*p.PaidAt)
	}
	if p.CancelledAt != nil {
		order.CancelledAt = timePtr(*p.CancelledAt)
	}
	if p.CompletedAt != nil {
		order.CompletedAt = timePtr(*p.CompletedAt)
	}
	if !p.UpdatedAt.IsZero() {
		order.UpdatedAt = p.UpdatedAt
	}
	return order
}

// OrderListFilter narrows order list queries for customers and admins.
type OrderListFilter struct {
	CustomerEmail string
	Statuses      []domain.OrderStatus
	PageSize      int
	PageToken     string
}

// ProductRepository reads catalog entries used to price checkout.
type ProductRepository interface {
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// PickupLocationRepository reads the shop's pickup locations.
type PickupLocationRepository interface {
	FindByID(ctx context.Context, locationID string) (domain.PickupLocation, error)
	ListActive(ctx context.Context) ([]domain.PickupLocation, error)
}

// DeliverySettingsRepository reads the process-wide delivery settings singleton.
type DeliverySettingsRepository interface {
	Get(ctx context.Context) (domain.DeliverySettings, error)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
