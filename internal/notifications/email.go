package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/repositories"
)

const emailChannel = "email"

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(messages ...*gomail.Message) error
}

// SMTPConfig describes the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// NewSMTPSender builds a gomail dialer for cfg.
func NewSMTPSender(cfg SMTPConfig) (*gomail.Dialer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return gomail.NewDialer(host, port, cfg.Username, cfg.Password), nil
}

// EmailDispatcherDeps wires the email channel.
type EmailDispatcherDeps struct {
	Sender          Sender
	Renderer        *Renderer
	From            string
	AdminRecipients []string
	Locations       repositories.PickupLocationRepository
	Logger          Logger
}

// EmailDispatcher renders order emails and sends them over SMTP.
type EmailDispatcher struct {
	sender    Sender
	renderer  *Renderer
	from      string
	admins    []string
	locations repositories.PickupLocationRepository
	logger    Logger
}

var _ Dispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher validates deps and constructs the dispatcher.
func NewEmailDispatcher(deps EmailDispatcherDeps) (*EmailDispatcher, error) {
	if deps.Sender == nil {
		return nil, errors.New("email dispatcher: sender is required")
	}
	from := strings.TrimSpace(deps.From)
	if from == "" {
		return nil, errors.New("email dispatcher: from address is required")
	}
	renderer := deps.Renderer
	if renderer == nil {
		var err error
		if renderer, err = NewRenderer(); err != nil {
			return nil, err
		}
	}
	admins := make([]string, 0, len(deps.AdminRecipients))
	for _, addr := range deps.AdminRecipients {
		if addr = strings.TrimSpace(addr); addr != "" {
			admins = append(admins, addr)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EmailDispatcher{
		sender:    deps.Sender,
		renderer:  renderer,
		from:      from,
		admins:    admins,
		locations: deps.Locations,
		logger:    logger,
	}, nil
}

// Notify renders the message and sends it, returning early when ctx ends first.
func (d *EmailDispatcher) Notify(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error {
	recipients, err := d.recipients(audience, order)
	if err != nil {
		return deliveryError(emailChannel, audience, template, order.ID, err)
	}
	if len(recipients) == 0 {
		d.logger(ctx, "notifications.email.skipped", map[string]any{
			"orderId":  order.ID,
			"audience": audience,
			"reason":   "no recipients",
		})
		return nil
	}

	msg, err := d.renderer.Render(audience, template, order, extras, d.pickupLocation(ctx, order))
	if err != nil {
		return deliveryError(emailChannel, audience, template, order.ID, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() { done <- d.sender.DialAndSend(m) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return deliveryError(emailChannel, audience, template, order.ID, err)
	}

	d.logger(ctx, "notifications.email.sent", map[string]any{
		"orderId":    order.ID,
		"audience":   audience,
		"template":   template,
		"recipients": len(recipients),
	})
	return nil
}

func (d *EmailDispatcher) recipients(audience Audience, order domain.Order) ([]string, error) {
	switch audience {
	case AudienceAdmins:
		return d.admins, nil
	case AudienceCustomer:
		email := strings.TrimSpace(order.CustomerEmail)
		if email == "" {
			return nil, errors.New("order has no customer email")
		}
		return []string{email}, nil
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}
}

// pickupLocation resolves location details for pickup orders; lookups are best effort.
func (d *EmailDispatcher) pickupLocation(ctx context.Context, order domain.Order) *domain.PickupLocation {
	pickup, ok := domain.PickupOf(order.Delivery)
	if !ok || d.locations == nil {
		return nil
	}
	location, err := d.locations.FindByID(ctx, pickup.LocationID)
	if err != nil {
		d.logger(ctx, "notifications.email.location_lookup_failed", map[string]any{
			"orderId":    order.ID,
			"locationId": pickup.LocationID,
			"error":      err.Error(),
		})
		return nil
	}
	return &location
}
