package notifications

import (
	"context"
	"errors"
	"time"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/platform/jobs"
)

const eventChannel = "pubsub"

// LifecycleEvent is the JSON payload published for downstream consumers.
type LifecycleEvent struct {
	OrderID        string    `json:"orderId"`
	Audience       Audience  `json:"audience"`
	Template       Template  `json:"template"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Total          string    `json:"total"`
	Currency       string    `json:"currency"`
	RefundAmount   string    `json:"refundAmount,omitempty"`
	CustomerEmail  string    `json:"customerEmail"`
	DeliveryType   string    `json:"deliveryType"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventDispatcher publishes every notification as a Pub/Sub lifecycle event.
type EventDispatcher struct {
	publisher jobs.Publisher
	clock     func() time.Time
}

var _ Dispatcher = (*EventDispatcher)(nil)

// NewEventDispatcher constructs a dispatcher over publisher.
func NewEventDispatcher(publisher jobs.Publisher, clock func() time.Time) (*EventDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("event dispatcher: publisher is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &EventDispatcher{publisher: publisher, clock: clock}, nil
}

// Notify implements Dispatcher.
func (d *EventDispatcher) Notify(ctx context.Context, audience Audience, template Template, order domain.Order, extras Extras) error {
	event := LifecycleEvent{
		OrderID:        order.ID,
		Audience:       audience,
		Template:       template,
		Status:         string(order.Status),
		PreviousStatus: string(extras.PreviousStatus),
		Total:          domain.RoundMoney(order.Total).StringFixed(domain.MoneyScale),
		Currency:       domain.NormalizeCurrency(order.Currency),
		CustomerEmail:  order.CustomerEmail,
		OccurredAt:     d.clock().UTC(),
	}
	if order.Delivery != nil {
		event.DeliveryType = string(order.Delivery.Type())
	}
	if extras.RefundAmount != nil {
		event.RefundAmount = domain.RoundMoney(*extras.RefundAmount).StringFixed(domain.MoneyScale)
	}

	_, err := d.publisher.Publish(ctx, event, map[string]string{
		"orderId":  order.ID,
		"template": string(template),
		"audience": string(audience),
		"status":   string(order.Status),
	})
	return deliveryError(eventChannel, audience, template, order.ID, err)
}
