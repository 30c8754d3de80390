package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/sweet-shop/api/internal/platform/firestore"
	"github.com/sweet-shop/api/internal/repositories"
)

// Registry bundles the Firestore repositories and their shared provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	products  *ProductRepository
	locations *PickupLocationRepository
	settings  *DeliverySettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository against provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	locations, err := NewPickupLocationRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewDeliverySettingsRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		orders:    orders,
		products:  products,
		locations: locations,
		settings:  settings,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Products implements repositories.Registry.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// PickupLocations implements repositories.Registry.
func (r *Registry) PickupLocations() repositories.PickupLocationRepository { return r.locations }

// DeliverySettings implements repositories.Registry.
func (r *Registry) DeliverySettings() repositories.DeliverySettingsRepository { return r.settings }

// RunInTx runs fn in a Firestore transaction; repository calls using the passed context join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
