package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/repositories/memory"
)

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]payments.SessionStatus
	sessions []payments.SessionRequest
	refunds  []payments.RefundRequest

	statusErr error
	refundFn  func(ctx context.Context, req payments.RefundRequest) (payments.Refund, error)
}

func newStubGateway() *stubGateway {
	return &stubGateway{statuses: make(map[string]payments.SessionStatus)}
}

func (g *stubGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, req)
	id := "cs_" + req.OrderID
	return payments.Session{ID: id, Provider: "stub", RedirectURL: "https://pay.test/" + id}, nil
}

func (g *stubGateway) GetSessionStatus(_ context.Context, sessionID string) (payments.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return payments.SessionStatus{}, g.statusErr
	}
	status, ok := g.statuses[sessionID]
	if !ok {
		return payments.SessionStatus{SessionID: sessionID, State: payments.SessionUnpaid}, nil
	}
	return status, nil
}

func (g *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.Refund, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	fn := g.refundFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return payments.Refund{ID: "re_" + req.IdempotencyKey, Amount: req.Amount, Currency: req.Currency, Status: "succeeded"}, nil
}

func (g *stubGateway) markPaid(sessionID, orderID, reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = payments.SessionStatus{SessionID: sessionID, State: payments.SessionPaid, OrderID: orderID, PaymentReference: reference}
}

func (g *stubGateway) refundCalls() []payments.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.RefundRequest(nil), g.refunds...)
}

type recordedNotification struct {
	Audience notifications.Audience
	Template notifications.Template
	OrderID  string
	Status   domain.OrderStatus
	Extras   notifications.Extras
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []recordedNotification
	err   error
	panic bool
}

func (d *recordingDispatcher) Notify(_ context.Context, audience notifications.Audience, template notifications.Template, order domain.Order, extras notifications.Extras) error {
	d.mu.Lock()
	d.calls = append(d.calls, recordedNotification{Audience: audience, Template: template, OrderID: order.ID, Status: order.Status, Extras: extras})
	err, shouldPanic := d.err, d.panic
	d.mu.Unlock()
	if shouldPanic {
		panic("smtp exploded")
	}
	return err
}

func (d *recordingDispatcher) count(audience notifications.Audience, template notifications.Template) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, call := range d.calls {
		if call.Audience == audience && call.Template == template {
			n++
		}
	}
	return n
}

func (d *recordingDispatcher) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type lifecycleFixture struct {
	svc      OrderLifecycleService
	store    *memory.Store
	gateway  *stubGateway
	notifier *recordingDispatcher
	logs     *recordingLogger
}

func newLifecycleFixture(t *testing.T, mutate ...func(*OrderLifecycleServiceDeps)) *lifecycleFixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p1", Name: "Macaron box", Price: decimal.RequireFromString("9.99"), Active: true})
	store.PutProduct(domain.Product{ID: "p2", Name: "Lemon tart", Price: decimal.RequireFromString("4.50"), Active: true})
	store.PutProduct(domain.Product{ID: "p3", Name: "Retired eclair", Price: decimal.RequireFromString("3.00"), Active: false})
	store.PutPickupLocation(domain.PickupLocation{ID: "loc_1", Name: "Old Town Kitchen", Active: true})
	store.PutPickupLocation(domain.PickupLocation{ID: "loc_2", Name: "Closed Kiosk", Active: false})

	fx := &lifecycleFixture{
		store:    store,
		gateway:  newStubGateway(),
		notifier: &recordingDispatcher{},
		logs:     &recordingLogger{},
	}
	var seq atomic.Int64
	deps := OrderLifecycleServiceDeps{
		Orders:           store.Orders(),
		Products:         store.Products(),
		PickupLocations:  store.PickupLocations(),
		DeliverySettings: store.DeliverySettings(),
		UnitOfWork:       store,
		Gateway:          fx.gateway,
		Notifier:         fx.notifier,
		Clock:            func() time.Time { return testNow },
		IDGenerator:      func() string { return fmt.Sprintf("%04d", seq.Add(1)) },
		Logger:           fx.logs.log,
		Currency:         "EUR",
		PickupHours:      PickupHours{Open: "09:00", Close: "18:00"},
		SuccessURL:       "https://shop.test/orders/{ORDER_ID}/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:        "https://shop.test/orders/{ORDER_ID}",
		NotifyTimeout:    time.Second,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewOrderLifecycleService(deps)
	if err != nil {
		t.Fatalf("NewOrderLifecycleService: %v", err)
	}
	fx.svc = svc
	return fx
}

// drain waits for post-commit hooks so notification counts are stable.
func (fx *lifecycleFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.svc.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func (fx *lifecycleFixture) seedOrder(t *testing.T, id string, status domain.OrderStatus, reference string) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:            id,
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Total:         decimal.RequireFromString("19.98"),
		Currency:      "EUR",
		Delivery:      domain.ShippingDelivery{Address: "1 Main", City: "Lyon", Zip: "69001"},
		PaymentMethod: domain.PaymentMethodCard,
		Status:        status,
		Items:         []domain.OrderItem{{ProductID: "p1", ProductName: "Macaron box", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")}},
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow.Add(-time.Hour),
	}
	if reference != "" {
		order.PaymentReference = &reference
	}
	if err := fx.store.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (fx *lifecycleFixture) reload(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := fx.store.Orders().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return order
}

func shippingCommand(items ...CartItemInput) CreateOrderCommand {
	return CreateOrderCommand{
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Delivery:      DeliveryInput{Type: "shipping", Address: "1 Main", City: "Lyon", Zip: "69001"},
		Items:         items,
	}
}

func pickupCommand(date, clock string, items ...CartItemInput) CreateOrderCommand {
	return CreateOrderCommand{
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Delivery:      DeliveryInput{Type: "pickup", LocationID: "loc_1", Date: date, Time: clock},
		Items:         items,
	}
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
