package domain

import (
	"fmt"
	"strings"
)

// DeliveryType discriminates the Delivery variants.
type DeliveryType string

const (
	// DeliveryTypeShipping ships the order to an address.
	DeliveryTypeShipping DeliveryType = "shipping"
	// DeliveryTypePickup has the customer collect the order at a pickup location.
	DeliveryTypePickup DeliveryType = "pickup"
)

// ParseDeliveryType normalises raw input into a DeliveryType.
func ParseDeliveryType(raw string) (DeliveryType, error) {
	switch DeliveryType(strings.ToLower(strings.TrimSpace(raw))) {
	case DeliveryTypeShipping:
		return DeliveryTypeShipping, nil
	case DeliveryTypePickup:
		return DeliveryTypePickup, nil
	default:
		return "", fmt.Errorf("unknown delivery type %q", raw)
	}
}

// Delivery is either ShippingDelivery or PickupDelivery.
type Delivery interface {
	Type() DeliveryType
	isDelivery()
}

// ShippingDelivery carries the destination address for shipped orders.
type ShippingDelivery struct {
	Address string
	City    string
	Zip     string
}

// Type implements Delivery.
func (ShippingDelivery) Type() DeliveryType { return DeliveryTypeShipping }

func (ShippingDelivery) isDelivery() {}

// PickupDelivery carries the pickup slot. Date is YYYY-MM-DD and Time is HH:MM in shop local time.
type PickupDelivery struct {
	LocationID string
	Date       string
	Time       string
}

// Type implements Delivery.
func (PickupDelivery) Type() DeliveryType { return DeliveryTypePickup }

func (PickupDelivery) isDelivery() {}

// ShippingOf returns the shipping variant when the delivery ships.
func ShippingOf(d Delivery) (ShippingDelivery, bool) {
	switch v := d.(type) {
	case ShippingDelivery:
		return v, true
	case *ShippingDelivery:
		if v != nil {
			return *v, true
		}
	}
	return ShippingDelivery{}, false
}

// PickupOf returns the pickup variant when the delivery is a pickup.
func PickupOf(d Delivery) (PickupDelivery, bool) {
	switch v := d.(type) {
	case PickupDelivery:
		return v, true
	case *PickupDelivery:
		if v != nil {
			return *v, true
		}
	}
	return PickupDelivery{}, false
}
