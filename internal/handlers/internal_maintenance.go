package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sweet-shop/api/internal/platform/httpx"
	"github.com/sweet-shop/api/internal/platform/requestctx"
)

// IdempotencyCleaner purges expired idempotency reservations.
type IdempotencyCleaner interface {
	Run(ctx context.Context) (int, error)
}

// MaintenanceHandlers exposes scheduler-triggered jobs under /internal. Authentication is applied
// by the router's internal middleware chain.
type MaintenanceHandlers struct {
	cleaner IdempotencyCleaner
}

// NewMaintenanceHandlers constructs the internal maintenance endpoints.
func NewMaintenanceHandlers(cleaner IdempotencyCleaner) *MaintenanceHandlers {
	return &MaintenanceHandlers{cleaner: cleaner}
}

// Routes registers the /internal/maintenance endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "idempotency cleanup is not configured", http.StatusServiceUnavailable))
		return
	}
	deleted, err := h.cleaner.Run(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Int("deleted", deleted), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Deleted: deleted})
}
