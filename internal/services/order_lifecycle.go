package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sweet-shop/api/internal/domain"
	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/repositories"
)

const (
	orderEventCreated            = "order.created"
	orderEventReloadFailed       = "order.reload.failed"
	orderEventPaymentSession     = "order.payment.session_created"
	orderEventPaymentVerified    = "order.payment.verified"
	orderEventLatePayment        = "order.payment.after_cancel"
	orderEventStatusChanged      = "order.status.changed"
	orderEventCancelled          = "order.cancelled"
	orderEventRefunded           = "order.refunded"
	orderEventRefundFailed       = "order.refund.failed"
	orderEventRefundRelease      = "order.refund.release_failed"
	orderEventNotificationFailed = "order.notification.failed"
	orderEventHookPanic          = "order.hook.panic"

	orderIDPrefix = "ord_"

	refundReason = "requested_by_customer"

	// lateRefundActor claims refunds for payments that arrive after cancellation.
	lateRefundActor = "system:late_payment"

	defaultRefundClaimTTL = 10 * time.Minute
	defaultNotifyTimeout  = 15 * time.Second
)

// OrderLifecycleServiceDeps bundles collaborators required to construct the lifecycle service.
type OrderLifecycleServiceDeps struct {
	Orders           repositories.OrderRepository
	Products         repositories.ProductRepository
	PickupLocations  repositories.PickupLocationRepository
	DeliverySettings repositories.DeliverySettingsRepository
	UnitOfWork       repositories.UnitOfWork
	Gateway          payments.Gateway
	Notifier         notifications.Dispatcher
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)

	Currency       string
	ShopLocation   *time.Location
	PickupHours    PickupHours
	SuccessURL     string
	CancelURL      string
	RefundClaimTTL time.Duration
	NotifyTimeout  time.Duration
}

type orderLifecycleService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	locations  repositories.PickupLocationRepository
	settings   repositories.DeliverySettingsRepository
	unitOfWork repositories.UnitOfWork
	gateway    payments.Gateway
	notifier   notifications.Dispatcher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)

	currency      string
	shopLocation  *time.Location
	pickupWindow  pickupWindow
	successURL    string
	cancelURL     string
	claimTTL      time.Duration
	notifyTimeout time.Duration

	hooks sync.WaitGroup
}

var _ OrderLifecycleService = (*orderLifecycleService)(nil)

// NewOrderLifecycleService wires dependencies into a concrete OrderLifecycleService.
func NewOrderLifecycleService(deps OrderLifecycleServiceDeps) (OrderLifecycleService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order lifecycle service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order lifecycle service: product repository is required")
	case deps.PickupLocations == nil:
		return nil, errors.New("order lifecycle service: pickup location repository is required")
	case deps.DeliverySettings == nil:
		return nil, errors.New("order lifecycle service: delivery settings repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("order lifecycle service: payment gateway is required")
	}

	window, err := parsePickupHours(deps.PickupHours)
	if err != nil {
		return nil, fmt.Errorf("order lifecycle service: %w", err)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Noop
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	loc := deps.ShopLocation
	if loc == nil {
		loc = time.UTC
	}
	claimTTL := deps.RefundClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultRefundClaimTTL
	}
	notifyTimeout := deps.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}

	return &orderLifecycleService{
		orders:     deps.Orders,
		products:   deps.Products,
		locations:  deps.PickupLocations,
		settings:   deps.DeliverySettings,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		notifier:   notifier,
		clock: func() time.Time {
			// Firestore keeps microseconds; refund claims are matched by exact timestamp.
			return clock().UTC().Truncate(time.Microsecond)
		},
		newID:         idGen,
		logger:        logger,
		currency:      domain.NormalizeCurrency(deps.Currency),
		shopLocation:  loc,
		pickupWindow:  window,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		claimTTL:      claimTTL,
		notifyTimeout: notifyTimeout,
	}, nil
}

func (s *orderLifecycleService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	cmd = normalizeCreateCommand(cmd)
	if err := validateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	delivery, err := s.resolveDelivery(ctx, cmd.Delivery)
	if err != nil {
		return domain.Order{}, err
	}

	method := domain.PaymentMethod(cmd.PaymentMethod)
	if method == "" {
		method = domain.PaymentMethodCard
	}
	if method == domain.PaymentMethodCash && delivery.Type() != domain.DeliveryTypePickup {
		return domain.Order{}, invalidField("paymentMethod", "cash is only accepted for pickup orders")
	}

	items, err := s.priceItems(ctx, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}

	status := domain.OrderStatusPending
	if method == domain.PaymentMethodCash {
		status = domain.OrderStatusPendingCash
	}

	now := s.now()
	order := domain.Order{
		ID:            orderIDPrefix + s.newID(),
		CustomerName:  cmd.CustomerName,
		CustomerEmail: cmd.CustomerEmail,
		Total:         domain.SumItems(items),
		Currency:      s.currency,
		Delivery:      delivery,
		PaymentMethod: method,
		Status:        status,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ec := cmd.EmergencyContact; ec != nil {
		order.EmergencyContact = &domain.EmergencyContact{
			Name:  ec.Name,
			Phone: ec.Phone,
			Email: ec.Email,
		}
	}

	if err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		return s.orders.Insert(txCtx, order)
	}); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	// The insert has committed; a failed reload must not make the caller retry into a duplicate.
	stored, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		s.logger(ctx, orderEventReloadFailed, map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		stored = order
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":       stored.ID,
		"status":        stored.Status,
		"total":         stored.Total.StringFixed(domain.MoneyScale),
		"deliveryType":  stored.Delivery.Type(),
		"paymentMethod": stored.PaymentMethod,
	})

	s.afterCommit(ctx, stored.ID, s.notifyHook(notifications.AudienceAdmins, notifications.TemplateOrderReceived, stored, notifications.Extras{}))
	return stored, nil
}

func (s *orderLifecycleService) resolveDelivery(ctx context.Context, input DeliveryInput) (domain.Delivery, error) {
	kind, err := domain.ParseDeliveryType(input.Type)
	if err != nil {
		return nil, invalidField("delivery.type", "must be one of: shipping, pickup")
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delivery settings: %w", err)
	}
	if !settings.Allows(kind) {
		return nil, invalidField("delivery.type", fmt.Sprintf("%s is not currently offered", kind))
	}

	if kind == domain.DeliveryTypeShipping {
		return domain.ShippingDelivery{
			Address: input.Address,
			City:    input.City,
			Zip:     input.Zip,
		}, nil
	}

	location, err := s.locations.FindByID(ctx, input.LocationID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, invalidField("delivery.locationId", "unknown pickup location")
		}
		return nil, fmt.Errorf("load pickup location: %w", err)
	}
	if !location.Active {
		return nil, invalidField("delivery.locationId", "pickup location is not active")
	}
	if err := validatePickupSlot(input.Date, input.Time, s.now(), s.shopLocation, s.pickupWindow); err != nil {
		return nil, err
	}
	return domain.PickupDelivery{LocationID: location.ID, Date: input.Date, Time: input.Time}, nil
}

// priceItems merges duplicate lines and snapshots catalog prices.
func (s *orderLifecycleService) priceItems(ctx context.Context, lines []CartItemInput) ([]domain.OrderItem, error) {
	ids := make([]string, 0, len(lines))
	quantities := make(map[string]int, len(lines))
	firstIndex := make(map[string]int, len(lines))
	for i, line := range lines {
		id := line.ProductID
		if _, seen := quantities[id]; !seen {
			ids = append(ids, id)
			firstIndex[id] = i
		}
		quantities[id] += line.Quantity
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	verr := &ValidationError{}
	items := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		product, ok := products[id]
		field := fmt.Sprintf("items[%d].productId", firstIndex[id])
		switch {
		case !ok:
			verr.add(field, "unknown product")
			continue
		case !product.Active:
			verr.add(field, "product is not available")
			continue
		case !product.Price.IsPositive():
			verr.add(field, "product has no price")
			continue
		}
		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantities[id],
			UnitPrice:   domain.RoundMoney(product.Price),
		})
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *orderLifecycleService) RequestPaymentSession(ctx context.Context, cmd RequestPaymentSessionCommand) (PaymentSession, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID, cmd.ActorEmail)
	if err != nil {
		return PaymentSession{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentSession{}, fmt.Errorf("%w: order %s is %s, payment sessions need a pending order", ErrInvalidTransition, order.ID, order.Status)
	}

	total := domain.RoundMoney(order.Total)
	lines := make([]payments.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.ProductName
		if name == "" {
			name = item.ProductID
		}
		lines = append(lines, payments.LineItem{Name: name, Quantity: int64(item.Quantity), UnitPrice: item.UnitPrice})
	}

	session, err := s.gateway.CreateSession(ctx, payments.SessionRequest{
		OrderID:        order.ID,
		Amount:         total,
		Currency:       order.Currency,
		CustomerEmail:  order.CustomerEmail,
		SuccessURL:     expandRedirect(s.successURL, order.ID),
		CancelURL:      expandRedirect(s.cancelURL, order.ID),
		Items:          lines,
		IdempotencyKey: fmt.Sprintf("checkout_%s_%s", order.ID, total.StringFixed(domain.MoneyScale)),
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("create payment session for %s: %w", order.ID, err)
	}

	s.logger(ctx, orderEventPaymentSession, map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
		"provider":  session.Provider,
	})
	return PaymentSession{
		OrderID:     order.ID,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *orderLifecycleService) VerifyPayment(ctx context.Context, sessionID string) (PaymentVerification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PaymentVerification{}, invalidField("sessionId", "is required")
	}

	status, err := s.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return PaymentVerification{}, fmt.Errorf("verify payment session %s: %w", sessionID, err)
	}
	if status.State != payments.SessionPaid {
		return PaymentVerification{Paid: false, State: status.State}, nil
	}

	orderID := strings.TrimSpace(status.OrderID)
	if orderID == "" {
		return PaymentVerification{}, fmt.Errorf("%w: session %s is not bound to an order", ErrNotFound, sessionID)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentVerification{}, translateRepoError("load order "+orderID, err)
	}
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return s.refundLatePayment(ctx, sessionID, order, status)
	case !order.Status.AwaitingPayment():
		return PaymentVerification{Paid: true, State: status.State, AlreadyApplied: true, Order: &order}, nil
	}

	now := s.now()
	paid := domain.OrderStatusPaid
	patch := repositories.OrderPatch{Status: &paid, PaidAt: &now, UpdatedAt: now}
	if ref := strings.TrimSpace(status.PaymentReference); ref != "" {
		patch.PaymentReference = &ref
	}
	updated, applied, err := s.orders.ConditionalUpdate(ctx, orderID, repositories.UpdateCondition{Statuses: awaitingPaymentStatuses}, patch)
	if err != nil {
		return PaymentVerification{}, translateRepoError("mark order paid", err)
	}
	if !applied {
		// Lost the race to a concurrent verification or cancellation.
		if updated.Status == domain.OrderStatusCancelled {
			return s.refundLatePayment(ctx, sessionID, updated, status)
		}
		return PaymentVerification{Paid: true, State: status.State, AlreadyApplied: true, Order: &updated}, nil
	}

	s.logger(ctx, orderEventPaymentVerified, map[string]any{
		"orderId":          updated.ID,
		"sessionId":        sessionID,
		"paymentReference": status.PaymentReference,
		"previousStatus":   order.Status,
	})
	s.afterCommit(ctx, updated.ID,
		s.notifyHook(notifications.AudienceAdmins, notifications.TemplateOrderReceived, updated, notifications.Extras{PreviousStatus: order.Status}),
		s.notifyHook(notifications.AudienceCustomer, notifications.TemplateOrderReceived, updated, notifications.Extras{PreviousStatus: order.Status}),
	)
	return PaymentVerification{Paid: true, State: status.State, Order: &updated}, nil
}

// refundLatePayment handles a session paid after its order was cancelled. The payment
// reference is recorded on the cancelled order and the charge is refunded in full.
// A gateway failure is returned so the caller retries; admins are told on first sight.
func (s *orderLifecycleService) refundLatePayment(ctx context.Context, sessionID string, order domain.Order, status payments.SessionStatus) (PaymentVerification, error) {
	result := PaymentVerification{Paid: true, State: status.State}
	firstSeen := false

	if !order.HasPaymentReference() {
		ref := strings.TrimSpace(status.PaymentReference)
		if ref == "" {
			s.logger(ctx, orderEventLatePayment, map[string]any{
				"orderId":    order.ID,
				"sessionId":  sessionID,
				"refundable": false,
			})
			s.afterCommit(ctx, order.ID, s.notifyHook(notifications.AudienceAdmins, notifications.TemplateCancellation, order,
				notifications.Extras{PreviousStatus: order.Status}))
			result.Order = &order
			return result, nil
		}
		stored, applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
			repositories.UpdateCondition{Statuses: cancelledStatuses, PaymentReferenceUnset: true},
			repositories.OrderPatch{PaymentReference: &ref, UpdatedAt: s.now()},
		)
		if err != nil {
			return PaymentVerification{}, translateRepoError("record late payment", err)
		}
		if !applied && !stored.HasPaymentReference() {
			return PaymentVerification{}, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, stored.ID, stored.Status)
		}
		if applied {
			firstSeen = true
			s.logger(ctx, orderEventLatePayment, map[string]any{
				"orderId":          stored.ID,
				"sessionId":        sessionID,
				"paymentReference": ref,
				"refundable":       true,
			})
		}
		order = stored
	}

	if order.Refund != nil && !order.Refund.InFlight() {
		result.AlreadyApplied = true
		result.Order = &order
		return result, nil
	}

	outcome, err := s.refundOrder(ctx, order, lateRefundActor, cancelledStatuses)
	if err != nil {
		if errors.Is(err, ErrPrecondition) {
			// Another caller holds the refund claim.
			current, loadErr := s.orders.FindByID(ctx, order.ID)
			if loadErr != nil {
				return PaymentVerification{}, translateRepoError("reload order "+order.ID, loadErr)
			}
			result.AlreadyApplied = true
			result.Order = &current
			return result, nil
		}
		if firstSeen {
			s.afterCommit(ctx, order.ID, s.notifyHook(notifications.AudienceAdmins, notifications.TemplateCancellation, order,
				notifications.Extras{PreviousStatus: order.Status}))
		}
		return PaymentVerification{}, err
	}

	s.afterCommit(ctx, outcome.Order.ID, s.notifyHook(notifications.AudienceAdmins, notifications.TemplateCancellation, outcome.Order,
		notifications.Extras{PreviousStatus: order.Status, RefundAmount: &outcome.Amount}))
	result.Order = &outcome.Order
	result.Refund = &outcome
	return result, nil
}

func (s *orderLifecycleService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error) {
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if !target.Valid() {
		return domain.Order{}, invalidField("status", fmt.Sprintf("unknown status %q", cmd.Status))
	}
	order, err := s.loadOrder(ctx, cmd.OrderID, "")
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, order.ID)
	}
	if order.Status == target {
		return order, nil
	}
	if !canAdvance(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	now := s.now()
	patch := repositories.OrderPatch{Status: &target, UpdatedAt: now}
	switch target {
	case domain.OrderStatusPaid:
		patch.PaidAt = &now
	case domain.OrderStatusCompleted:
		patch.CompletedAt = &now
	}
	updated, applied, err := s.orders.ConditionalUpdate(ctx, order.ID, repositories.UpdateCondition{Statuses: []domain.OrderStatus{order.Status}}, patch)
	if err != nil {
		return domain.Order{}, translateRepoError("advance order status", err)
	}
	if !applied {
		if updated.Status == target {
			return updated, nil
		}
		return domain.Order{}, fmt.Errorf("%w: order %s changed to %s concurrently", ErrInvalidTransition, order.ID, updated.Status)
	}

	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":        updated.ID,
		"previousStatus": order.Status,
		"status":         updated.Status,
		"actorId":        cmd.ActorID,
	})
	s.afterCommit(ctx, updated.ID, s.notifyHook(notifications.AudienceCustomer, notifications.TemplateStatusUpdate, updated, notifications.Extras{PreviousStatus: order.Status}))
	return updated, nil
}

func (s *orderLifecycleService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID, cmd.ActorEmail)
	if err != nil {
		return domain.Order{}, err
	}
	if !statusIn(order.Status, customerCancellableStatuses) {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s and can no longer be cancelled by the customer", ErrInvalidTransition, order.ID, order.Status)
	}

	now := s.now()
	cancelled := domain.OrderStatusCancelled
	updated, applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
		repositories.UpdateCondition{Statuses: customerCancellableStatuses},
		repositories.OrderPatch{Status: &cancelled, CancelledAt: &now, UpdatedAt: now},
	)
	if err != nil {
		return domain.Order{}, translateRepoError("cancel order", err)
	}
	if !applied {
		return domain.Order{}, fmt.Errorf("%w: order %s is now %s", ErrInvalidTransition, order.ID, updated.Status)
	}

	s.logger(ctx, orderEventCancelled, map[string]any{
		"orderId":        updated.ID,
		"previousStatus": order.Status,
		"by":             "customer",
	})
	return updated, nil
}

func (s *orderLifecycleService) CancelAndRefund(ctx context.Context, cmd CancelAndRefundCommand) (RefundOutcome, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID, "")
	if err != nil {
		return RefundOutcome{}, err
	}
	if isTerminal(order.Status) {
		return RefundOutcome{}, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.ID, order.Status)
	}
	if !order.HasPaymentReference() {
		return RefundOutcome{}, fmt.Errorf("%w: order %s has no payment to refund", ErrPrecondition, order.ID)
	}

	return s.refundOrder(ctx, order, cmd.ActorID, refundableStatuses)
}

// refundOrder claims the refund marker on an order in one of statuses, refunds the full total
// through the gateway and records the outcome. The order ends up cancelled.
func (s *orderLifecycleService) refundOrder(ctx context.Context, order domain.Order, actorID string, statuses []domain.OrderStatus) (RefundOutcome, error) {
	claimedAt := s.now()
	staleBefore := claimedAt.Add(-s.claimTTL)
	if order.Refund.InFlight() && !order.Refund.ClaimedAt.Before(staleBefore) {
		return RefundOutcome{}, fmt.Errorf("%w: a refund for order %s is already in progress", ErrPrecondition, order.ID)
	}

	claim := &domain.RefundState{ClaimedAt: claimedAt, ClaimedBy: actorID}
	current, applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
		repositories.UpdateCondition{Statuses: statuses, RefundClaimableBefore: staleBefore},
		repositories.OrderPatch{Refund: claim, UpdatedAt: claimedAt},
	)
	if err != nil {
		return RefundOutcome{}, translateRepoError("claim refund", err)
	}
	if !applied {
		if !statusIn(current.Status, statuses) {
			return RefundOutcome{}, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, current.ID, current.Status)
		}
		return RefundOutcome{}, fmt.Errorf("%w: a refund for order %s is already in progress", ErrPrecondition, order.ID)
	}

	amount := domain.RoundMoney(current.Total)
	refund, err := s.gateway.Refund(ctx, payments.RefundRequest{
		PaymentReference: *current.PaymentReference,
		Amount:           amount,
		Currency:         current.Currency,
		Reason:           refundReason,
		IdempotencyKey:   refundIdempotencyKey(current.ID, claimedAt),
		Metadata:         map[string]string{"order_id": current.ID},
	})
	// The claim must be settled even when the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.logger(ctx, orderEventRefundFailed, map[string]any{
			"orderId": current.ID,
			"error":   err.Error(),
		})
		if _, released, relErr := s.orders.ConditionalUpdate(settleCtx, current.ID,
			repositories.UpdateCondition{RefundClaimedAt: claimedAt},
			repositories.OrderPatch{ClearRefund: true, UpdatedAt: s.now()},
		); relErr != nil || !released {
			s.logger(ctx, orderEventRefundRelease, map[string]any{
				"orderId":  current.ID,
				"released": released,
				"error":    errString(relErr),
			})
		}
		return RefundOutcome{}, fmt.Errorf("refund order %s: %w", current.ID, err)
	}

	completedAt := s.now()
	cancelled := domain.OrderStatusCancelled
	refunded := amount
	if refund.Amount.IsPositive() {
		refunded = domain.RoundMoney(refund.Amount)
	}
	patch := repositories.OrderPatch{
		Status:    &cancelled,
		UpdatedAt: completedAt,
		Refund: &domain.RefundState{
			ClaimedAt:   claimedAt,
			ClaimedBy:   actorID,
			CompletedAt: &completedAt,
			RefundID:    refund.ID,
			Amount:      refunded,
			Status:      refund.Status,
		},
	}
	if current.Status != domain.OrderStatusCancelled {
		patch.CancelledAt = &completedAt
	}
	updated, applied, err := s.orders.ConditionalUpdate(settleCtx, current.ID,
		repositories.UpdateCondition{RefundClaimedAt: claimedAt}, patch)
	if err != nil {
		return RefundOutcome{}, translateRepoError("record refund", err)
	}
	if !applied {
		if updated.Status == domain.OrderStatusCancelled && updated.Refund != nil && updated.Refund.RefundID == refund.ID {
			return RefundOutcome{Order: updated, RefundID: refund.ID, Amount: refunded, Status: refund.Status}, nil
		}
		return RefundOutcome{}, fmt.Errorf("%w: refund %s for order %s was issued but its claim was taken over", ErrPrecondition, refund.ID, current.ID)
	}

	s.logger(ctx, orderEventRefunded, map[string]any{
		"orderId":        updated.ID,
		"refundId":       refund.ID,
		"amount":         refunded.StringFixed(domain.MoneyScale),
		"previousStatus": current.Status,
		"actorId":        actorID,
	})
	s.afterCommit(ctx, updated.ID, s.notifyHook(notifications.AudienceCustomer, notifications.TemplateCancellation, updated,
		notifications.Extras{PreviousStatus: current.Status, RefundAmount: &refunded}))

	return RefundOutcome{Order: updated, RefundID: refund.ID, Amount: refunded, Status: refund.Status}, nil
}

// refundIdempotencyKey is stable for one claim so gateway retries inside it collapse,
// while a later claim gets a fresh key instead of a replayed failure.
func refundIdempotencyKey(orderID string, claimedAt time.Time) string {
	return "refund_" + orderID + "_" + strconv.FormatInt(claimedAt.UnixMicro(), 10)
}

func (s *orderLifecycleService) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	return s.loadOrder(ctx, query.OrderID, query.ActorEmail)
}

func (s *orderLifecycleService) ListCustomerOrders(ctx context.Context, query CustomerOrdersQuery) (domain.OrderPage, error) {
	email := strings.TrimSpace(query.CustomerEmail)
	if email == "" {
		return domain.OrderPage{}, invalidField("customerEmail", "is required")
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerEmail: email,
		PageSize:      clampPageSize(query.PageSize),
		PageToken:     strings.TrimSpace(query.PageToken),
	})
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list customer orders: %w", err)
	}
	return page, nil
}

func (s *orderLifecycleService) ListOrders(ctx context.Context, query OrderListQuery) (domain.OrderPage, error) {
	filter := repositories.OrderListFilter{
		PageSize:  clampPageSize(query.PageSize),
		PageToken: strings.TrimSpace(query.PageToken),
	}
	for _, raw := range query.Statuses {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return domain.OrderPage{}, invalidField("status", fmt.Sprintf("unknown status %q", raw))
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}

func (s *orderLifecycleService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.hooks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadOrder reads an order; a non-empty actorEmail must match the order's customer email.
func (s *orderLifecycleService) loadOrder(ctx context.Context, orderID, actorEmail string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, invalidField("orderId", "is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError("load order "+orderID, err)
	}
	if actorEmail = strings.TrimSpace(actorEmail); actorEmail != "" && !strings.EqualFold(actorEmail, order.CustomerEmail) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

// postCommitHook is a side effect scheduled once a transition has been stored.
type postCommitHook struct {
	name string
	run  func(ctx context.Context) error
}

func (s *orderLifecycleService) notifyHook(audience notifications.Audience, template notifications.Template, order domain.Order, extras notifications.Extras) postCommitHook {
	return postCommitHook{
		name: fmt.Sprintf("notify.%s.%s", audience, template),
		run: func(ctx context.Context) error {
			return s.notifier.Notify(ctx, audience, template, order, extras)
		},
	}
}

// afterCommit runs each hook concurrently in its own goroutine with a detached, bounded context.
// Failures and panics are logged and never reach the caller.
func (s *orderLifecycleService) afterCommit(ctx context.Context, orderID string, hooks ...postCommitHook) {
	base := context.WithoutCancel(ctx)
	for _, hook := range hooks {
		s.hooks.Add(1)
		go func(hook postCommitHook) {
			defer s.hooks.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger(base, orderEventHookPanic, map[string]any{
						"orderId": orderID,
						"hook":    hook.name,
						"panic":   fmt.Sprint(r),
					})
				}
			}()
			hookCtx, cancel := context.WithTimeout(base, s.notifyTimeout)
			defer cancel()
			if err := hook.run(hookCtx); err != nil {
				s.logger(base, orderEventNotificationFailed, map[string]any{
					"orderId": orderID,
					"hook":    hook.name,
					"error":   err.Error(),
				})
			}
		}(hook)
	}
}

func (s *orderLifecycleService) now() time.Time {
	return s.clock()
}

// expandRedirect substitutes the order id and keeps Stripe's session placeholder intact.
func expandRedirect(raw, orderID string) string {
	return strings.ReplaceAll(raw, "{ORDER_ID}", orderID)
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return 20
	case size > 100:
		return 100
	default:
		return size
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
