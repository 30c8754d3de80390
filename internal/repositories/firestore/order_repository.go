package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	domain "github.com/sweet-shop/api/internal/domain"
	pfirestore "github.com/sweet-shop/api/internal/platform/firestore"
	"github.com/sweet-shop/api/internal/platform/pagination"
	"github.com/sweet-shop/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

// OrderRepository stores each order with its items embedded in a single document.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) doc(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID), nil
}

// Insert creates the order document, joining the caller's transaction when one is active.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.doc(ctx, order.ID)
	if err != nil {
		return err
	}
	doc, err := encodeOrder(order)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrderSnapshot(snap)
}

// ConditionalUpdate reads the order and writes the patch inside one transaction, so concurrent
// callers racing on the same condition see at most one applied update.
func (r *OrderRepository) ConditionalUpdate(ctx context.Context, orderID string, cond repositories.UpdateCondition, patch repositories.OrderPatch) (domain.Order, bool, error) {
	ref, err := r.doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		result  domain.Order
		applied bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeOrderSnapshot(snap)
		if err != nil {
			return err
		}
		if !cond.Matches(current) {
			result = current
			return nil
		}
		updated := patch.Apply(current)
		doc, err := encodeOrder(updated)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = updated
		applied = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, pfirestore.WrapError("orders.conditionalUpdate", err)
	}
	return result, applied, nil
}

// List returns orders newest first, optionally filtered by customer email and statuses.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.OrderPage{}, err
	}

	size := filter.PageSize
	if size <= 0 {
		size = defaultOrderPageSize
	}
	if size > maxOrderPageSize {
		size = maxOrderPageSize
	}

	query := client.Collection(ordersCollection).Query
	if email := strings.ToLower(strings.TrimSpace(filter.CustomerEmail)); email != "" {
		query = query.Where("customerEmailKey", "==", email)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeToken(filter.PageToken)
		if err != nil {
			return domain.OrderPage{}, err
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	query = query.Limit(size + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	page := domain.OrderPage{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.OrderPage{}, pfirestore.WrapError("orders.list", err)
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.OrderPage{}, err
		}
		page.Items = append(page.Items, order)
	}
	if len(page.Items) > size {
		last := page.Items[size-1]
		page.Items = page.Items[:size]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

type orderDocument struct {
	CustomerName     string                    `firestore:"customerName"`
	CustomerEmail    string                    `firestore:"customerEmail"`
	CustomerEmailKey string                    `firestore:"customerEmailKey"`
	Total            string                    `firestore:"total"`
	Currency         string                    `firestore:"currency"`
	DeliveryType     string                    `firestore:"deliveryType"`
	ShippingAddress  *shippingAddressDocument  `firestore:"shippingAddress,omitempty"`
	Pickup           *pickupDocument           `firestore:"pickup,omitempty"`
	EmergencyContact *emergencyContactDocument `firestore:"emergencyContact,omitempty"`
	PaymentMethod    string                    `firestore:"paymentMethod"`
	Status           string                    `firestore:"status"`
	PaymentReference *string                   `firestore:"paymentReference,omitempty"`
	Refund           *refundDocument           `firestore:"refund,omitempty"`
	Items            []orderItemDocument       `firestore:"items"`
	CreatedAt        time.Time                 `firestore:"createdAt"`
	UpdatedAt        time.Time                 `firestore:"updatedAt"`
	PaidAt           *time.Time                `firestore:"paidAt,omitempty"`
	CancelledAt      *time.Time                `firestore:"cancelledAt,omitempty"`
	CompletedAt      *time.Time                `firestore:"completedAt,omitempty"`
}

type shippingAddressDocument struct {
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	ZipCode string `firestore:"zipCode"`
}

type pickupDocument struct {
	LocationID string `firestore:"locationId"`
	Date       string `firestore:"date"`
	Time       string `firestore:"time"`
}

type emergencyContactDocument struct {
	Name  string `firestore:"name,omitempty"`
	Phone string `firestore:"phone,omitempty"`
	Email string `firestore:"email,omitempty"`
}

type refundDocument struct {
	ClaimedAt   time.Time  `firestore:"claimedAt"`
	ClaimedBy   string     `firestore:"claimedBy,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
	RefundID    string     `firestore:"refundId,omitempty"`
	Amount      string     `firestore:"amount,omitempty"`
	Status      string     `firestore:"status,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   string `firestore:"priceAtPurchase"`
}

func encodeOrder(order domain.Order) (orderDocument, error) {
	doc := orderDocument{
		CustomerName:     order.CustomerName,
		CustomerEmail:    order.CustomerEmail,
		CustomerEmailKey: strings.ToLower(strings.TrimSpace(order.CustomerEmail)),
		Total:            domain.RoundMoney(order.Total).StringFixed(domain.MoneyScale),
		Currency:         order.Currency,
		PaymentMethod:    string(order.PaymentMethod),
		Status:           string(order.Status),
		PaymentReference: order.PaymentReference,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		PaidAt:           order.PaidAt,
		CancelledAt:      order.CancelledAt,
		CompletedAt:      order.CompletedAt,
	}

	if shipping, ok := domain.ShippingOf(order.Delivery); ok {
		doc.DeliveryType = string(domain.DeliveryTypeShipping)
		doc.ShippingAddress = &shippingAddressDocument{Address: shipping.Address, City: shipping.City, ZipCode: shipping.Zip}
	} else if pickup, ok := domain.PickupOf(order.Delivery); ok {
		doc.DeliveryType = string(domain.DeliveryTypePickup)
		doc.Pickup = &pickupDocument{LocationID: pickup.LocationID, Date: pickup.Date, Time: pickup.Time}
	} else {
		return orderDocument{}, fmt.Errorf("order %s: unsupported delivery %T", order.ID, order.Delivery)
	}

	if contact := order.EmergencyContact; contact != nil {
		doc.EmergencyContact = &emergencyContactDocument{Name: contact.Name, Phone: contact.Phone, Email: contact.Email}
	}
	if refund := order.Refund; refund != nil {
		doc.Refund = &refundDocument{
			ClaimedAt:   refund.ClaimedAt.UTC(),
			ClaimedBy:   refund.ClaimedBy,
			CompletedAt: refund.CompletedAt,
			RefundID:    refund.RefundID,
			Status:      refund.Status,
		}
		if !refund.Amount.IsZero() {
			doc.Refund.Amount = domain.RoundMoney(refund.Amount).StringFixed(domain.MoneyScale)
		}
	}

	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.RoundMoney(item.UnitPrice).StringFixed(domain.MoneyScale),
		})
	}
	return doc, nil
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return decodeOrder(snap.Ref.ID, doc)
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", id, err)
	}

	order := domain.Order{
		ID:               id,
		CustomerName:     doc.CustomerName,
		CustomerEmail:    doc.CustomerEmail,
		Total:            total,
		Currency:         domain.NormalizeCurrency(doc.Currency),
		PaymentMethod:    domain.PaymentMethod(doc.PaymentMethod),
		Status:           domain.OrderStatus(doc.Status),
		PaymentReference: doc.PaymentReference,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
		PaidAt:           doc.PaidAt,
		CancelledAt:      doc.CancelledAt,
		CompletedAt:      doc.CompletedAt,
	}

	switch domain.DeliveryType(doc.DeliveryType) {
	case domain.DeliveryTypeShipping:
		if doc.ShippingAddress == nil {
			return domain.Order{}, fmt.Errorf("decode order %s: shipping order without address", id)
		}
		order.Delivery = domain.ShippingDelivery{Address: doc.ShippingAddress.Address, City: doc.ShippingAddress.City, Zip: doc.ShippingAddress.ZipCode}
	case domain.DeliveryTypePickup:
		if doc.Pickup == nil {
			return domain.Order{}, fmt.Errorf("decode order %s: pickup order without pickup slot", id)
		}
		order.Delivery = domain.PickupDelivery{LocationID: doc.Pickup.LocationID, Date: doc.Pickup.Date, Time: doc.Pickup.Time}
	default:
		return domain.Order{}, fmt.Errorf("decode order %s: unknown delivery type %q", id, doc.DeliveryType)
	}

	if contact := doc.EmergencyContact; contact != nil {
		order.EmergencyContact = &domain.EmergencyContact{Name: contact.Name, Phone: contact.Phone, Email: contact.Email}
	}
	if refund := doc.Refund; refund != nil {
		state := &domain.RefundState{
			ClaimedAt:   refund.ClaimedAt.UTC(),
			ClaimedBy:   refund.ClaimedBy,
			CompletedAt: refund.CompletedAt,
			RefundID:    refund.RefundID,
			Status:      refund.Status,
		}
		if refund.Amount != "" {
			amount, err := decimal.NewFromString(refund.Amount)
			if err != nil {
				return domain.Order{}, fmt.Errorf("decode order %s refund amount: %w", id, err)
			}
			state.Amount = amount
		}
		order.Refund = state
	}

	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s item %s price: %w", id, item.ProductID, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return order, nil
}
