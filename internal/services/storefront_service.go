package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/repositories"
)

// StorefrontServiceDeps bundles the read-only repositories behind checkout configuration.
type StorefrontServiceDeps struct {
	PickupLocations  repositories.PickupLocationRepository
	DeliverySettings repositories.DeliverySettingsRepository
}

type storefrontService struct {
	locations repositories.PickupLocationRepository
	settings  repositories.DeliverySettingsRepository
}

// NewStorefrontService constructs the storefront read service.
func NewStorefrontService(deps StorefrontServiceDeps) (StorefrontService, error) {
	if deps.PickupLocations == nil || deps.DeliverySettings == nil {
		return nil, errors.New("storefront service: pickup location and delivery settings repositories are required")
	}
	return &storefrontService{locations: deps.PickupLocations, settings: deps.DeliverySettings}, nil
}

func (s *storefrontService) DeliverySettings(ctx context.Context) (domain.DeliverySettings, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return domain.DeliverySettings{}, fmt.Errorf("load delivery settings: %w", err)
	}
	return settings, nil
}

// PickupLocations lists active locations, or none when pickup is switched off.
func (s *storefrontService) PickupLocations(ctx context.Context) ([]domain.PickupLocation, error) {
	settings, err := s.DeliverySettings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.PickupEnabled {
		return []domain.PickupLocation{}, nil
	}
	locations, err := s.locations.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pickup locations: %w", err)
	}
	if locations == nil {
		locations = []domain.PickupLocation{}
	}
	return locations, nil
}
