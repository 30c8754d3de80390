package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/repositories"
)

func TestCreateOrderSnapshotsPricesAndTotals(t *testing.T) {
	fx := newLifecycleFixture(t)

	order, err := fx.svc.Create(context.Background(), shippingCommand(CartItemInput{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if !order.Total.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("expected total 19.98, got %s", order.Total)
	}
	if order.ID != "ord_0001" || order.Currency != "EUR" || order.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("unexpected order header %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].ProductName != "Macaron box" || !order.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if _, ok := domain.ShippingOf(order.Delivery); !ok {
		t.Fatalf("expected shipping delivery, got %#v", order.Delivery)
	}

	stored := fx.reload(t, order.ID)
	if !stored.Total.Equal(domain.SumItems(stored.Items)) {
		t.Fatalf("stored total %s does not match items", stored.Total)
	}

	fx.drain(t)
	if got := fx.notifier.count(notifications.AudienceAdmins, notifications.TemplateOrderReceived); got != 1 {
		t.Fatalf("expected one admin notification, got %d", got)
	}
	if fx.notifier.total() != 1 {
		t.Fatalf("expected no customer notification at creation, got %d calls", fx.notifier.total())
	}
}

func TestCreateOrderTotalsEqualSumOfLines(t *testing.T) {
	carts := [][]CartItemInput{
		{{ProductID: "p1", Quantity: 1}},
		{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 2}},
		{{ProductID: "p2", Quantity: 1}, {ProductID: "p2", Quantity: 4}, {ProductID: "p1", Quantity: 7}},
	}
	for _, cart := range carts {
		fx := newLifecycleFixture(t)
		order, err := fx.svc.Create(context.Background(), shippingCommand(cart...))
		if err != nil {
			t.Fatalf("Create(%v): %v", cart, err)
		}
		want := decimal.Zero
		for _, line := range cart {
			price := decimal.RequireFromString("9.99")
			if line.ProductID == "p2" {
				price = decimal.RequireFromString("4.50")
			}
			want = want.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		if !order.Total.Equal(want) {
			t.Fatalf("cart %v: expected total %s, got %s", cart, want, order.Total)
		}
		if order.Status != domain.OrderStatusPending {
			t.Fatalf("expected pending, got %s", order.Status)
		}
	}
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	fx := newLifecycleFixture(t)

	order, err := fx.svc.Create(context.Background(), shippingCommand(
		CartItemInput{ProductID: "p1", Quantity: 1},
		CartItemInput{ProductID: "p2", Quantity: 1},
		CartItemInput{ProductID: "p1", Quantity: 2},
	))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(order.Items) != 2 || order.Items[0].ProductID != "p1" || order.Items[0].Quantity != 3 {
		t.Fatalf("expected merged p1 line first, got %+v", order.Items)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	card := func(mutate func(*CreateOrderCommand)) CreateOrderCommand {
		cmd := shippingCommand(CartItemInput{ProductID: "p1", Quantity: 1})
		mutate(&cmd)
		return cmd
	}
	pickup := func(mutate func(*CreateOrderCommand)) CreateOrderCommand {
		cmd := pickupCommand("2026-10-15", "10:00", CartItemInput{ProductID: "p1", Quantity: 1})
		mutate(&cmd)
		return cmd
	}

	cases := []struct {
		name  string
		cmd   CreateOrderCommand
		field string
		setup func(fx *lifecycleFixture)
	}{
		{name: "empty cart", cmd: shippingCommand(), field: "items"},
		{name: "zero quantity", cmd: shippingCommand(CartItemInput{ProductID: "p1"}), field: "items[0].quantity"},
		{name: "unknown product", cmd: shippingCommand(CartItemInput{ProductID: "nope", Quantity: 1}), field: "items[0].productId"},
		{name: "inactive product", cmd: shippingCommand(CartItemInput{ProductID: "p3", Quantity: 1}), field: "items[0].productId"},
		{name: "missing shipping address", cmd: card(func(c *CreateOrderCommand) { c.Delivery.Address = "" }), field: "delivery.address"},
		{name: "blank customer name", cmd: card(func(c *CreateOrderCommand) { c.CustomerName = "   " }), field: "customerName"},
		{name: "blank shipping address", cmd: card(func(c *CreateOrderCommand) { c.Delivery.Address = "   " }), field: "delivery.address"},
		{name: "blank shipping city", cmd: card(func(c *CreateOrderCommand) { c.Delivery.City = "\t" }), field: "delivery.city"},
		{name: "blank shipping zip", cmd: card(func(c *CreateOrderCommand) { c.Delivery.Zip = " \n" }), field: "delivery.zip"},
		{name: "blank pickup location", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.LocationID = "  " }), field: "delivery.locationId"},
		{name: "blank product id", cmd: shippingCommand(CartItemInput{ProductID: " ", Quantity: 1}), field: "items[0].productId"},
		{
			name:  "blank emergency contact",
			cmd:   card(func(c *CreateOrderCommand) { c.EmergencyContact = &EmergencyContactInput{Name: " ", Phone: "0600000000"} }),
			field: "emergencyContact.name",
		},
		{name: "invalid email", cmd: card(func(c *CreateOrderCommand) { c.CustomerEmail = "ana" }), field: "customerEmail"},
		{name: "unknown delivery type", cmd: card(func(c *CreateOrderCommand) { c.Delivery.Type = "drone" }), field: "delivery.type"},
		{name: "cash for shipping", cmd: card(func(c *CreateOrderCommand) { c.PaymentMethod = "cash" }), field: "paymentMethod"},
		{name: "pickup in the past", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.Date = "2026-10-13" }), field: "delivery.date"},
		{name: "pickup outside hours", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.Time = "20:30" }), field: "delivery.time"},
		{name: "pickup missing location", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.LocationID = "" }), field: "delivery.locationId"},
		{name: "unknown pickup location", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.LocationID = "loc_9" }), field: "delivery.locationId"},
		{name: "inactive pickup location", cmd: pickup(func(c *CreateOrderCommand) { c.Delivery.LocationID = "loc_2" }), field: "delivery.locationId"},
		{
			name:  "shipping disabled",
			cmd:   shippingCommand(CartItemInput{ProductID: "p1", Quantity: 1}),
			field: "delivery.type",
			setup: func(fx *lifecycleFixture) {
				fx.store.SetDeliverySettings(domain.DeliverySettings{ShippingEnabled: false, PickupEnabled: true})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newLifecycleFixture(t)
			if tc.setup != nil {
				tc.setup(fx)
			}
			_, err := fx.svc.Create(context.Background(), tc.cmd)
			expectErr(t, err, ErrValidation)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %s in %+v", tc.field, verr.Fields)
			}

			page, err := fx.store.Orders().List(context.Background(), repositories.OrderListFilter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(page.Items) != 0 {
				t.Fatalf("expected nothing persisted, got %d orders", len(page.Items))
			}
			fx.drain(t)
			if fx.notifier.total() != 0 {
				t.Fatalf("expected no notifications on validation failure")
			}
		})
	}
}

func TestCreateOrderTrimsInput(t *testing.T) {
	fx := newLifecycleFixture(t)
	cmd := shippingCommand(CartItemInput{ProductID: " p1 ", Quantity: 1})
	cmd.CustomerName = "  Ana  "
	cmd.CustomerEmail = " ana@example.com "
	cmd.Delivery = DeliveryInput{Type: " Shipping ", Address: " 1 Main ", City: "Lyon\t", Zip: " 69001"}
	cmd.PaymentMethod = " CARD "

	order, err := fx.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.CustomerName != "Ana" || order.CustomerEmail != "ana@example.com" || order.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("expected trimmed customer fields, got %+v", order)
	}
	shipping, ok := domain.ShippingOf(order.Delivery)
	if !ok || shipping.Address != "1 Main" || shipping.City != "Lyon" || shipping.Zip != "69001" {
		t.Fatalf("expected trimmed shipping address, got %+v", order.Delivery)
	}
	if len(order.Items) != 1 || order.Items[0].ProductID != "p1" {
		t.Fatalf("expected trimmed product id, got %+v", order.Items)
	}
}

func TestCreatePickupCashOrderStartsPendingCash(t *testing.T) {
	fx := newLifecycleFixture(t)
	cmd := pickupCommand("2026-10-14", "17:45", CartItemInput{ProductID: "p2", Quantity: 2})
	cmd.PaymentMethod = "cash"

	order, err := fx.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if order.Status != domain.OrderStatusPendingCash {
		t.Fatalf("expected pending_cash, got %s", order.Status)
	}
	pickup, ok := domain.PickupOf(order.Delivery)
	if !ok || pickup.LocationID != "loc_1" || pickup.Date != "2026-10-14" || pickup.Time != "17:45" {
		t.Fatalf("unexpected pickup %+v", order.Delivery)
	}
}

type failingOrders struct {
	repositories.OrderRepository
}

func (failingOrders) Insert(context.Context, domain.Order) error {
	return errors.New("firestore: unavailable")
}

func TestCreateLeavesNoRecordWhenInsertFails(t *testing.T) {
	fx := newLifecycleFixture(t, func(deps *OrderLifecycleServiceDeps) {
		deps.Orders = failingOrders{deps.Orders}
	})

	_, err := fx.svc.Create(context.Background(), shippingCommand(CartItemInput{ProductID: "p1", Quantity: 2}))
	if err == nil {
		t.Fatalf("expected create to fail")
	}
	page, _ := fx.store.Orders().List(context.Background(), repositories.OrderListFilter{})
	if len(page.Items) != 0 {
		t.Fatalf("expected no partial order, got %d", len(page.Items))
	}
	fx.drain(t)
	if fx.notifier.total() != 0 {
		t.Fatalf("expected no notification after failed create")
	}
}

type unreadableOrders struct {
	repositories.OrderRepository
}

func (unreadableOrders) FindByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, errors.New("firestore: deadline exceeded")
}

func TestCreateReturnsOrderWhenReloadFails(t *testing.T) {
	fx := newLifecycleFixture(t, func(deps *OrderLifecycleServiceDeps) {
		deps.Orders = unreadableOrders{deps.Orders}
	})

	order, err := fx.svc.Create(context.Background(), shippingCommand(CartItemInput{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("expected committed order to be returned, got %v", err)
	}
	if order.ID != "ord_0001" || order.Status != domain.OrderStatusPending || !order.Total.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("unexpected order %+v", order)
	}
	if !fx.logs.has(orderEventReloadFailed) {
		t.Fatalf("expected reload failure to be logged")
	}
	if stored := fx.reload(t, order.ID); stored.ID != order.ID {
		t.Fatalf("expected order persisted once, got %+v", stored)
	}
	page, _ := fx.store.Orders().List(context.Background(), repositories.OrderListFilter{})
	if len(page.Items) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(page.Items))
	}
	fx.drain(t)
	if got := fx.notifier.count(notifications.AudienceAdmins, notifications.TemplateOrderReceived); got != 1 {
		t.Fatalf("expected admin notification, got %d", got)
	}
}

func TestRequestPaymentSessionBindsOrder(t *testing.T) {
	fx := newLifecycleFixture(t)
	order, err := fx.svc.Create(context.Background(), shippingCommand(CartItemInput{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	session, err := fx.svc.RequestPaymentSession(context.Background(), RequestPaymentSessionCommand{OrderID: order.ID, ActorEmail: "ANA@example.com"})
	if err != nil {
		t.Fatalf("RequestPaymentSession: %v", err)
	}
	if session.SessionID != "cs_"+order.ID || session.RedirectURL == "" || session.OrderID != order.ID {
		t.Fatalf("unexpected session %+v", session)
	}

	req := fx.gateway.sessions[0]
	if req.OrderID != order.ID || !req.Amount.Equal(decimal.RequireFromString("19.98")) || req.Currency != "EUR" {
		t.Fatalf("unexpected session request %+v", req)
	}
	if req.IdempotencyKey != "checkout_"+order.ID+"_19.98" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if req.SuccessURL != "https://shop.test/orders/"+order.ID+"/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %q", req.SuccessURL)
	}

	if stored := fx.reload(t, order.ID); stored.Status != domain.OrderStatusPending || stored.HasPaymentReference() {
		t.Fatalf("expected order untouched, got %+v", stored)
	}
}

func TestRequestPaymentSessionPreconditions(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.seedOrder(t, "ord_paid", domain.OrderStatusPaid, "pi_1")
	fx.seedOrder(t, "ord_pending", domain.OrderStatusPending, "")
	fx.seedOrder(t, "ord_cash", domain.OrderStatusPendingCash, "")

	_, err := fx.svc.RequestPaymentSession(context.Background(), RequestPaymentSessionCommand{OrderID: "ord_missing"})
	expectErr(t, err, ErrNotFound)

	_, err = fx.svc.RequestPaymentSession(context.Background(), RequestPaymentSessionCommand{OrderID: "ord_cash"})
	expectErr(t, err, ErrInvalidTransition)

	_, err = fx.svc.RequestPaymentSession(context.Background(), RequestPaymentSessionCommand{OrderID: "ord_paid"})
	expectErr(t, err, ErrInvalidTransition)

	_, err = fx.svc.RequestPaymentSession(context.Background(), RequestPaymentSessionCommand{OrderID: "ord_pending", ActorEmail: "mallory@example.com"})
	expectErr(t, err, ErrNotFound)

	if len(fx.gateway.sessions) != 0 {
		t.Fatalf("expected no gateway calls, got %d", len(fx.gateway.sessions))
	}
}

func TestCustomerReadsAreScopedByEmail(t *testing.T) {
	fx := newLifecycleFixture(t)
	fx.seedOrder(t, "ord_ana", domain.OrderStatusPending, "")
	if _, err := fx.svc.Create(context.Background(), func() CreateOrderCommand {
		c := shippingCommand(CartItemInput{ProductID: "p2", Quantity: 1})
		c.CustomerEmail = "bob@example.com"
		return c
	}()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := fx.svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_ana", ActorEmail: "Ana@Example.com"}); err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	_, err := fx.svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_ana", ActorEmail: "bob@example.com"})
	expectErr(t, err, ErrNotFound)

	page, err := fx.svc.ListCustomerOrders(context.Background(), CustomerOrdersQuery{CustomerEmail: "ana@example.com"})
	if err != nil {
		t.Fatalf("ListCustomerOrders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_ana" {
		t.Fatalf("expected only ana's order, got %+v", page.Items)
	}

	all, err := fx.svc.ListOrders(context.Background(), OrderListQuery{Statuses: []string{"pending"}})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all.Items) != 2 {
		t.Fatalf("expected both pending orders for admins, got %d", len(all.Items))
	}

	_, err = fx.svc.ListCustomerOrders(context.Background(), CustomerOrdersQuery{})
	expectErr(t, err, ErrValidation)

	_, err = fx.svc.ListOrders(context.Background(), OrderListQuery{Statuses: []string{"baking"}})
	expectErr(t, err, ErrValidation)
	fx.drain(t)
}
