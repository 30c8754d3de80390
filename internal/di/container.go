package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/platform/config"
	"github.com/sweet-shop/api/internal/platform/observability"
	"github.com/sweet-shop/api/internal/repositories"
	"github.com/sweet-shop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderLifecycleService
	Storefront services.StorefrontService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerOptions struct {
	gateway  payments.Gateway
	notifier notifications.Dispatcher
	checks   []repositories.DependencyCheck
	build    services.BuildInfo
	logger   *zap.Logger
	clock    func() time.Time
	newID    func() string
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithGateway sets the payment gateway used by the order lifecycle. It is required.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *containerOptions) {
		o.gateway = gateway
	}
}

// WithNotifier sets the dispatcher receiving post-commit notifications.
func WithNotifier(notifier notifications.Dispatcher) Option {
	return func(o *containerOptions) {
		o.notifier = notifier
	}
}

// WithHealthChecks registers readiness probes. Without any, the system service is not built.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithLogger sets the base logger services log through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock overrides the time source, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithIDGenerator overrides order id generation, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *containerOptions) {
		o.newID = fn
	}
}

// NewContainer constructs the runtime dependencies on top of reg, which may be backed by
// Firestore in production or the memory store locally and in tests.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close waits for in-flight notifications, then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Orders != nil {
		if err := c.Services.Orders.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for notifications: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services

	loc, err := shopLocation(cfg.Shop.TimeZone)
	if err != nil {
		return Services{}, err
	}

	orderSvc, err := services.NewOrderLifecycleService(services.OrderLifecycleServiceDeps{
		Orders:           reg.Orders(),
		Products:         reg.Products(),
		PickupLocations:  reg.PickupLocations(),
		DeliverySettings: reg.DeliverySettings(),
		UnitOfWork:       reg,
		Gateway:          options.gateway,
		Notifier:         options.notifier,
		Clock:            options.clock,
		IDGenerator:      options.newID,
		Logger:           observability.EventLogger(options.logger.Named("orders")),
		Currency:         cfg.PSP.Currency,
		ShopLocation:     loc,
		PickupHours:      services.PickupHours{Open: cfg.Shop.PickupOpen, Close: cfg.Shop.PickupClose},
		SuccessURL:       cfg.PSP.SuccessURL,
		CancelURL:        cfg.PSP.CancelURL,
		RefundClaimTTL:   cfg.Shop.RefundClaimTTL,
		NotifyTimeout:    cfg.Notifications.Timeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order lifecycle service: %w", err)
	}
	svc.Orders = orderSvc

	storefrontSvc, err := services.NewStorefrontService(services.StorefrontServiceDeps{
		PickupLocations:  reg.PickupLocations(),
		DeliverySettings: reg.DeliverySettings(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build storefront service: %w", err)
	}
	svc.Storefront = storefrontSvc

	if len(options.checks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(options.checks, options.clock)
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		build := options.build
		if strings.TrimSpace(build.Environment) == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            options.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func shopLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load shop time zone %q: %w", name, err)
	}
	return loc, nil
}
