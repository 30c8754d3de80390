package handlers

import (
	"strings"

	domain "github.com/sweet-shop/api/internal/domain"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID               string                   `json:"id"`
	CustomerName     string                   `json:"customerName"`
	CustomerEmail    string                   `json:"customerEmail"`
	Status           string                   `json:"status"`
	PaymentMethod    string                   `json:"paymentMethod"`
	Total            string                   `json:"total"`
	Currency         string                   `json:"currency"`
	Delivery         deliveryPayload          `json:"delivery"`
	EmergencyContact *emergencyContactPayload `json:"emergencyContact,omitempty"`
	Items            []orderItemPayload       `json:"items"`
	Refund           *refundPayload           `json:"refund,omitempty"`
	CreatedAt        string                   `json:"createdAt"`
	UpdatedAt        string                   `json:"updatedAt,omitempty"`
	PaidAt           string                   `json:"paidAt,omitempty"`
	CancelledAt      string                   `json:"cancelledAt,omitempty"`
	CompletedAt      string                   `json:"completedAt,omitempty"`
}

type deliveryPayload struct {
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	Zip        string `json:"zip,omitempty"`
	LocationID string `json:"locationId,omitempty"`
	Date       string `json:"date,omitempty"`
	Time       string `json:"time,omitempty"`
}

type emergencyContactPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

type refundPayload struct {
	RefundID    string `json:"refundId,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Status      string `json:"status,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Total:         domain.RoundMoney(order.Total).StringFixed(domain.MoneyScale),
		Currency:      strings.ToUpper(order.Currency),
		Delivery:      buildDeliveryPayload(order.Delivery),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		PaidAt:        formatTimePtr(order.PaidAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		CompletedAt:   formatTimePtr(order.CompletedAt),
	}
	if contact := order.EmergencyContact; contact != nil {
		payload.EmergencyContact = &emergencyContactPayload{Name: contact.Name, Phone: contact.Phone, Email: contact.Email}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.RoundMoney(item.UnitPrice).StringFixed(domain.MoneyScale),
			LineTotal:   item.LineTotal().StringFixed(domain.MoneyScale),
		})
	}
	// An in-flight claim is internal bookkeeping; only confirmed refunds are shown.
	if refund := order.Refund; refund != nil && !refund.InFlight() {
		payload.Refund = &refundPayload{
			RefundID:    refund.RefundID,
			Amount:      domain.RoundMoney(refund.Amount).StringFixed(domain.MoneyScale),
			Status:      refund.Status,
			CompletedAt: formatTimePtr(refund.CompletedAt),
		}
	}
	return payload
}

func buildDeliveryPayload(delivery domain.Delivery) deliveryPayload {
	if shipping, ok := domain.ShippingOf(delivery); ok {
		return deliveryPayload{
			Type:    string(domain.DeliveryTypeShipping),
			Address: shipping.Address,
			City:    shipping.City,
			Zip:     shipping.Zip,
		}
	}
	if pickup, ok := domain.PickupOf(delivery); ok {
		return deliveryPayload{
			Type:       string(domain.DeliveryTypePickup),
			LocationID: pickup.LocationID,
			Date:       pickup.Date,
			Time:       pickup.Time,
		}
	}
	return deliveryPayload{}
}

func buildOrderList(page domain.OrderPage) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: strings.TrimSpace(page.NextPageToken)}
}
