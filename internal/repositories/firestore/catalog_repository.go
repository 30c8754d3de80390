package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	domain "github.com/sweet-shop/api/internal/domain"
	pfirestore "github.com/sweet-shop/api/internal/platform/firestore"
	"github.com/sweet-shop/api/internal/repositories"
)

const (
	productsCollection        = "products"
	pickupLocationsCollection = "pickupLocations"
	settingsCollection        = "settings"
	deliverySettingsDocID     = "delivery"
)

// ProductRepository reads catalog prices maintained by the back-office.
type ProductRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the catalog reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

type productDocument struct {
	Name     string `firestore:"name"`
	Price    any    `firestore:"price"`
	IsActive *bool  `firestore:"isActive"`
}

// FindByIDs returns the products that exist among productIDs, keyed by id.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		if id = strings.TrimSpace(id); id != "" {
			refs = append(refs, client.Collection(productsCollection).Doc(id))
		}
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getAll", err)
	}
	result := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		price, err := decimalFromAny(doc.Price)
		if err != nil {
			return nil, fmt.Errorf("decode product %s price: %w", snap.Ref.ID, err)
		}
		result[snap.Ref.ID] = domain.Product{
			ID:     snap.Ref.ID,
			Name:   doc.Name,
			Price:  domain.RoundMoney(price),
			Active: doc.IsActive == nil || *doc.IsActive,
		}
	}
	return result, nil
}

// PickupLocationRepository reads pickup locations.
type PickupLocationRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.PickupLocationRepository = (*PickupLocationRepository)(nil)

// NewPickupLocationRepository constructs the pickup location reader.
func NewPickupLocationRepository(provider *pfirestore.Provider) (*PickupLocationRepository, error) {
	if provider == nil {
		return nil, errors.New("pickup location repository requires firestore provider")
	}
	return &PickupLocationRepository{provider: provider}, nil
}

type pickupLocationDocument struct {
	Name         string    `firestore:"name"`
	Address      string    `firestore:"address"`
	City         string    `firestore:"city"`
	ZipCode      string    `firestore:"zipCode"`
	Instructions string    `firestore:"instructions"`
	IsActive     bool      `firestore:"isActive"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d pickupLocationDocument) toDomain(id string) domain.PickupLocation {
	return domain.PickupLocation{
		ID:           id,
		Name:         d.Name,
		Address:      d.Address,
		City:         d.City,
		Zip:          d.ZipCode,
		Instructions: d.Instructions,
		Active:       d.IsActive,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// FindByID loads one location regardless of its active flag.
func (r *PickupLocationRepository) FindByID(ctx context.Context, locationID string) (domain.PickupLocation, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PickupLocation{}, err
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return domain.PickupLocation{}, errors.New("pickup location repository: id is required")
	}
	snap, err := client.Collection(pickupLocationsCollection).Doc(locationID).Get(ctx)
	if err != nil {
		return domain.PickupLocation{}, pfirestore.WrapError("pickupLocations.get", err)
	}
	var doc pickupLocationDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PickupLocation{}, fmt.Errorf("decode pickup location %s: %w", locationID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListActive returns active locations sorted by name.
func (r *PickupLocationRepository) ListActive(ctx context.Context) ([]domain.PickupLocation, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := client.Collection(pickupLocationsCollection).Where("isActive", "==", true).Documents(ctx)
	defer iter.Stop()

	var locations []domain.PickupLocation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("pickupLocations.list", err)
		}
		var doc pickupLocationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode pickup location %s: %w", snap.Ref.ID, err)
		}
		locations = append(locations, doc.toDomain(snap.Ref.ID))
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].Name < locations[j].Name })
	return locations, nil
}

// DeliverySettingsRepository reads the settings/delivery singleton.
type DeliverySettingsRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.DeliverySettingsRepository = (*DeliverySettingsRepository)(nil)

// NewDeliverySettingsRepository constructs the settings reader.
func NewDeliverySettingsRepository(provider *pfirestore.Provider) (*DeliverySettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery settings repository requires firestore provider")
	}
	return &DeliverySettingsRepository{provider: provider}, nil
}

type deliverySettingsDocument struct {
	ShippingEnabled bool      `firestore:"shippingEnabled"`
	PickupEnabled   bool      `firestore:"pickupEnabled"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

// Get returns the stored settings. A missing document means both delivery types are offered.
func (r *DeliverySettingsRepository) Get(ctx context.Context) (domain.DeliverySettings, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.DeliverySettings{}, err
	}
	snap, err := client.Collection(settingsCollection).Doc(deliverySettingsDocID).Get(ctx)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.DeliverySettings{ShippingEnabled: true, PickupEnabled: true}, nil
		}
		return domain.DeliverySettings{}, pfirestore.WrapError("deliverySettings.get", err)
	}
	var doc deliverySettingsDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.DeliverySettings{}, fmt.Errorf("decode delivery settings: %w", err)
	}
	return domain.DeliverySettings{
		ShippingEnabled: doc.ShippingEnabled,
		PickupEnabled:   doc.PickupEnabled,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// decimalFromAny accepts the numeric shapes the back-office writes for prices.
func decimalFromAny(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, errors.New("missing value")
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", value)
	}
}
