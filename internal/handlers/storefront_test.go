package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sweet-shop/api/internal/domain"
)

type stubStorefrontService struct {
	settings  domain.DeliverySettings
	locations []domain.PickupLocation
	err       error
}

func (s *stubStorefrontService) DeliverySettings(context.Context) (domain.DeliverySettings, error) {
	return s.settings, s.err
}

func (s *stubStorefrontService) PickupLocations(context.Context) ([]domain.PickupLocation, error) {
	return s.locations, s.err
}

func TestStorefrontDeliverySettings(t *testing.T) {
	router := chi.NewRouter()
	NewStorefrontHandlers(&stubStorefrontService{settings: domain.DeliverySettings{
		ShippingEnabled: false,
		PickupEnabled:   true,
		UpdatedAt:       time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}}).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/delivery-settings", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp deliverySettingsResponse
	decodeBody(t, rr, &resp)
	if resp.ShippingEnabled || !resp.PickupEnabled || resp.UpdatedAt != "2026-09-01T08:00:00Z" {
		t.Fatalf("unexpected settings payload %+v", resp)
	}
}

func TestStorefrontPickupLocations(t *testing.T) {
	router := chi.NewRouter()
	NewStorefrontHandlers(&stubStorefrontService{locations: []domain.PickupLocation{
		{ID: "loc-1", Name: "Croix-Rousse", Address: "4 Rue d'Austerlitz", City: "Lyon", Zip: "69004", Active: true},
	}}).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pickup-locations", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp pickupLocationsResponse
	decodeBody(t, rr, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != "loc-1" || resp.Items[0].Zip != "69004" {
		t.Fatalf("unexpected locations payload %+v", resp)
	}
}

func TestStorefrontPickupLocationsEmptyListIsArray(t *testing.T) {
	router := chi.NewRouter()
	NewStorefrontHandlers(&stubStorefrontService{}).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pickup-locations", nil))

	if body := rr.Body.String(); body != "{\"items\":[]}\n" {
		t.Fatalf("expected empty items array, got %q", body)
	}
}

func TestStorefrontFailure(t *testing.T) {
	router := chi.NewRouter()
	NewStorefrontHandlers(&stubStorefrontService{err: errors.New("firestore unavailable")}).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/delivery-settings", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
