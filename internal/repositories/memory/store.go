// Package memory provides process-local repository implementations for tests and local development.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/platform/pagination"
	"github.com/sweet-shop/api/internal/repositories"
)

const defaultPageSize = 50

// Store keeps every collection in memory behind a single mutex.
type Store struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	products  map[string]domain.Product
	locations map[string]domain.PickupLocation
	settings  domain.DeliverySettings
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store with both delivery types enabled.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		products:  make(map[string]domain.Product),
		locations: make(map[string]domain.PickupLocation),
		settings:  domain.DeliverySettings{ShippingEnabled: true, PickupEnabled: true},
	}
}

// PutProduct seeds or replaces a catalog product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutPickupLocation seeds or replaces a pickup location.
func (s *Store) PutPickupLocation(location domain.PickupLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[location.ID] = location
}

// SetDeliverySettings replaces the delivery settings singleton.
func (s *Store) SetDeliverySettings(settings domain.DeliverySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// RunInTx runs fn directly; each memory operation is already atomic.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is required")
	}
	return fn(ctx)
}

// Orders implements repositories.Registry.
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }

// Products implements repositories.Registry.
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }

// PickupLocations implements repositories.Registry.
func (s *Store) PickupLocations() repositories.PickupLocationRepository {
	return pickupLocationRepository{s}
}

// DeliverySettings implements repositories.Registry.
func (s *Store) DeliverySettings() repositories.DeliverySettingsRepository {
	return deliverySettingsRepository{s}
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("memory: order id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewStoreError("orders.insert", repositories.StoreErrorConflict, nil)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewStoreError("orders.find", repositories.StoreErrorNotFound, nil)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) ConditionalUpdate(_ context.Context, orderID string, cond repositories.UpdateCondition, patch repositories.OrderPatch) (domain.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, false, repositories.NewStoreError("orders.update", repositories.StoreErrorNotFound, nil)
	}
	if !cond.Matches(current) {
		return cloneOrder(current), false, nil
	}
	updated := patch.Apply(cloneOrder(current))
	r.s.orders[orderID] = updated
	return cloneOrder(updated), true, nil
}

func (r orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	r.s.mu.Lock()
	matched := make([]domain.Order, 0, len(r.s.orders))
	for _, order := range r.s.orders {
		if filter.CustomerEmail != "" && !strings.EqualFold(order.CustomerEmail, filter.CustomerEmail) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, order.Status) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	r.s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := 0
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeToken(filter.PageToken)
		if err != nil {
			return domain.OrderPage{}, err
		}
		// First order strictly after the cursor in (createdAt desc, id desc) order.
		offset = sort.Search(len(matched), func(i int) bool {
			o := matched[i]
			if o.CreatedAt.Equal(cursor.CreatedAt) {
				return o.ID < cursor.ID
			}
			return o.CreatedAt.Before(cursor.CreatedAt)
		})
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	page := domain.OrderPage{}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + size
	if end < len(matched) {
		last := matched[end-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	} else {
		end = len(matched)
	}
	page.Items = matched[offset:end]
	return page, nil
}

type productRepository struct{ s *Store }

func (r productRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

type pickupLocationRepository struct{ s *Store }

func (r pickupLocationRepository) FindByID(_ context.Context, locationID string) (domain.PickupLocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	location, ok := r.s.locations[locationID]
	if !ok {
		return domain.PickupLocation{}, repositories.NewStoreError("pickup_locations.find", repositories.StoreErrorNotFound, nil)
	}
	return location, nil
}

func (r pickupLocationRepository) ListActive(context.Context) ([]domain.PickupLocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := make([]domain.PickupLocation, 0, len(r.s.locations))
	for _, location := range r.s.locations {
		if location.Active {
			result = append(result, location)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type deliverySettingsRepository struct{ s *Store }

func (r deliverySettingsRepository) Get(context.Context) (domain.DeliverySettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.settings, nil
}

func containsStatus(statuses []domain.OrderStatus, target domain.OrderStatus) bool {
	for _, status := range statuses {
		if status == target {
			return true
		}
	}
	return false
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	if order.Items != nil {
		clone.Items = append([]domain.OrderItem(nil), order.Items...)
	}
	if order.EmergencyContact != nil {
		contact := *order.EmergencyContact
		clone.EmergencyContact = &contact
	}
	if order.PaymentReference != nil {
		ref := *order.PaymentReference
		clone.PaymentReference = &ref
	}
	if order.Refund != nil {
		refund := *order.Refund
		if order.Refund.CompletedAt != nil {
			completed := *order.Refund.CompletedAt
			refund.CompletedAt = &completed
		}
		clone.Refund = &refund
	}
	if order.PaidAt != nil {
		paid := *order.PaidAt
		clone.PaidAt = &paid
	}
	if order.CancelledAt != nil {
		cancelled := *order.CancelledAt
		clone.CancelledAt = &cancelled
	}
	if order.CompletedAt != nil {
		completed := *order.CompletedAt
		clone.CompletedAt = &completed
	}
	return clone
}
