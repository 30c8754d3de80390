package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/services"
)

// StorefrontHandlers serves the unauthenticated checkout configuration.
type StorefrontHandlers struct {
	storefront services.StorefrontService
}

// NewStorefrontHandlers constructs storefront read handlers.
func NewStorefrontHandlers(storefront services.StorefrontService) *StorefrontHandlers {
	return &StorefrontHandlers{storefront: storefront}
}

// Routes registers the /storefront endpoints.
func (h *StorefrontHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/delivery-settings", h.deliverySettings)
	r.Get("/pickup-locations", h.pickupLocations)
}

type deliverySettingsResponse struct {
	ShippingEnabled bool   `json:"shippingEnabled"`
	PickupEnabled   bool   `json:"pickupEnabled"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

type pickupLocationPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	City         string `json:"city"`
	Zip          string `json:"zip"`
	Instructions string `json:"instructions,omitempty"`
}

type pickupLocationsResponse struct {
	Items []pickupLocationPayload `json:"items"`
}

func (h *StorefrontHandlers) deliverySettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.storefront == nil {
		httpx.WriteError(ctx, w, httpx.NewError("storefront_unavailable", "storefront service unavailable", http.StatusServiceUnavailable))
		return
	}
	settings, err := h.storefront.DeliverySettings(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliverySettingsResponse{
		ShippingEnabled: settings.ShippingEnabled,
		PickupEnabled:   settings.PickupEnabled,
		UpdatedAt:       formatTime(settings.UpdatedAt),
	})
}

func (h *StorefrontHandlers) pickupLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.storefront == nil {
		httpx.WriteError(ctx, w, httpx.NewError("storefront_unavailable", "storefront service unavailable", http.StatusServiceUnavailable))
		return
	}
	locations, err := h.storefront.PickupLocations(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]pickupLocationPayload, 0, len(locations))
	for _, loc := range locations {
		items = append(items, pickupLocationPayload{
			ID:           loc.ID,
			Name:         loc.Name,
			Address:      loc.Address,
			City:         loc.City,
			Zip:          loc.Zip,
			Instructions: loc.Instructions,
		})
	}
	writeJSONResponse(w, http.StatusOK, pickupLocationsResponse{Items: items})
}
