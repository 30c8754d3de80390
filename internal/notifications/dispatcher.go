// Package notifications delivers order lifecycle messages to admins and customers.
package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/sweet-shop/api/internal/domain"
)

// Audience selects who receives a notification.
type Audience string

const (
	// AudienceAdmins targets every configured shop administrator.
	AudienceAdmins Audience = "admins"
	// AudienceCustomer targets the customer who placed the order.
	AudienceCustomer Audience = "customer"
)

// Template names the message shape.
type Template string

const (
	TemplateOrderReceived Template = "order_received"
	TemplateStatusUpdate  Template = "status_update"
	TemplateCancellation  Template = "cancellation"
)

// Extras carries per-event context that is not part of the order record.
type Extras struct {
	PreviousStatus domain.OrderStatus
	RefundAmount   *decimal.Decimal
}

// Dispatcher delivers one notification.
type Dispatcher interface {
	Notify(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error
}

// Logger mirrors the structured logger used across the api.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrNotification matches every delivery failure.
var ErrNotification = errors.New("notifications: delivery failed")

// NotificationError describes a failed delivery on one channel.
type NotificationError struct {
	Channel  string
	Audience Audience
	Template Template
	OrderID  string
	Err      error
}

func (e *NotificationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("notifications: %s %s/%s for order %s: %v", e.Channel, e.Audience, e.Template, e.OrderID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotification) match.
func (e *NotificationError) Is(target error) bool { return target == ErrNotification }

func deliveryError(channel string, audience Audience, template Template, orderID string, err error) error {
	if err == nil {
		return nil
	}
	return &NotificationError{Channel: channel, Audience: audience, Template: template, OrderID: orderID, Err: err}
}

// Fanout delivers to every dispatcher and joins their failures.
type Fanout []Dispatcher

// Notify implements Dispatcher.
func (f Fanout) Notify(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error {
	var errs []error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.Notify(ctx, audience, template, order, extras); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error

// Notify implements Dispatcher.
func (fn DispatcherFunc) Notify(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error {
	return fn(ctx, audience, template, order, extras)
}

// Noop discards every notification.
var Noop Dispatcher = DispatcherFunc(func(context.Context, Audience, Template, domain.Order, Extras) error { return nil })
