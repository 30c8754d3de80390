package di

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/platform/config"
	"github.com/sweet-shop/api/internal/repositories"
	"github.com/sweet-shop/api/internal/repositories/memory"
)

type stubGateway struct{}

func (stubGateway) CreateSession(context.Context, payments.SessionRequest) (payments.Session, error) {
	return payments.Session{}, errors.New("not used")
}

func (stubGateway) GetSessionStatus(context.Context, string) (payments.SessionStatus, error) {
	return payments.SessionStatus{}, errors.New("not used")
}

func (stubGateway) Refund(context.Context, payments.RefundRequest) (payments.Refund, error) {
	return payments.Refund{}, errors.New("not used")
}

func testConfig() config.Config {
	return config.Config{
		PSP: config.PSPConfig{
			Currency:   "EUR",
			SuccessURL: "https://shop.test/success",
			CancelURL:  "https://shop.test/cancel",
		},
		Shop: config.ShopConfig{
			TimeZone:    "UTC",
			PickupOpen:  "09:00",
			PickupClose: "18:00",
		},
		Security: config.SecurityConfig{Environment: "test"},
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	store := memory.NewStore()
	store.PutPickupLocation(domain.PickupLocation{ID: "loc-1", Name: "Croix-Rousse", Active: true})

	container, err := NewContainer(context.Background(), testConfig(), store, WithGateway(stubGateway{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.Orders == nil || container.Services.Storefront == nil {
		t.Fatalf("expected order and storefront services, got %+v", container.Services)
	}
	if container.Services.System != nil {
		t.Fatalf("expected no system service without health checks")
	}

	locations, err := container.Services.Storefront.PickupLocations(context.Background())
	if err != nil {
		t.Fatalf("pickup locations: %v", err)
	}
	if len(locations) != 1 || locations[0].ID != "loc-1" {
		t.Fatalf("unexpected locations %+v", locations)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewContainerHealthChecks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	container, err := NewContainer(context.Background(), testConfig(), memory.NewStore(),
		WithGateway(stubGateway{}),
		WithClock(func() time.Time { return now }),
		WithHealthChecks(repositories.DependencyCheck{
			Name:  "firestore",
			Check: func(context.Context) error { return errors.New("unavailable") },
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if container.Services.System == nil {
		t.Fatalf("expected system service")
	}

	report, err := container.Services.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status == repositories.HealthStatusOK {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Environment != "test" {
		t.Fatalf("expected environment from config, got %q", report.Environment)
	}
}

func TestNewContainerValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewContainer(ctx, testConfig(), nil, WithGateway(stubGateway{})); err == nil {
		t.Fatalf("expected error for missing registry")
	}
	if _, err := NewContainer(ctx, testConfig(), memory.NewStore()); err == nil {
		t.Fatalf("expected error for missing gateway")
	}

	cfg := testConfig()
	cfg.Shop.TimeZone = "Mars/Olympus"
	if _, err := NewContainer(ctx, cfg, memory.NewStore(), WithGateway(stubGateway{})); err == nil {
		t.Fatalf("expected error for unknown time zone")
	}

	cfg = testConfig()
	cfg.Shop.PickupOpen = "19:00"
	if _, err := NewContainer(ctx, cfg, memory.NewStore(), WithGateway(stubGateway{})); err == nil {
		t.Fatalf("expected error for inverted pickup hours")
	}
}
