package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/platform/jobs"
)

func TestEventDispatcherPublishesLifecycleEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-events")
	require.NoError(t, err)
	defer topic.Stop()

	publisher, err := jobs.NewPubSubPublisher(topic)
	require.NoError(t, err)

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	dispatcher, err := NewEventDispatcher(publisher, func() time.Time { return now })
	require.NoError(t, err)

	order := sampleOrder()
	order.Status = domain.OrderStatusCancelled
	refund := decimal.RequireFromString("19.98")
	require.NoError(t, dispatcher.Notify(ctx, AudienceCustomer, TemplateCancellation, order, Extras{PreviousStatus: domain.OrderStatusPaid, RefundAmount: &refund}))

	messages := srv.Messages()
	require.Len(t, messages, 1)

	var event LifecycleEvent
	require.NoError(t, json.Unmarshal(messages[0].Data, &event))
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, "cancelled", event.Status)
	assert.Equal(t, "paid", event.PreviousStatus)
	assert.Equal(t, "19.98", event.Total)
	assert.Equal(t, "19.98", event.RefundAmount)
	assert.Equal(t, "pickup", event.DeliveryType)
	assert.True(t, event.OccurredAt.Equal(now))
	assert.Equal(t, "cancellation", messages[0].Attributes["template"])
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, any, map[string]string) (string, error) {
	return "", errors.New("unavailable")
}

func TestEventDispatcherWrapsPublishFailure(t *testing.T) {
	dispatcher, err := NewEventDispatcher(failingPublisher{}, nil)
	require.NoError(t, err)

	err = dispatcher.Notify(context.Background(), AudienceAdmins, TemplateOrderReceived, sampleOrder(), Extras{})
	assert.ErrorIs(t, err, ErrNotification)
}

func TestFanoutJoinsErrors(t *testing.T) {
	var calls int
	ok := DispatcherFunc(func(context.Context, Audience, Template, domain.Order, Extras) error {
		calls++
		return nil
	})
	bad := DispatcherFunc(func(_ context.Context, audience Audience, template Template, order domain.Order, _ Extras) error {
		calls++
		return deliveryError("test", audience, template, order.ID, errors.New("boom"))
	})

	err := Fanout{bad, nil, ok}.Notify(context.Background(), AudienceCustomer, TemplateStatusUpdate, sampleOrder(), Extras{})
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, ErrNotification)

	assert.NoError(t, Fanout{ok, Noop}.Notify(context.Background(), AudienceCustomer, TemplateStatusUpdate, sampleOrder(), Extras{}))
}
