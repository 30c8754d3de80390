package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeliveryType(t *testing.T) {
	kind, err := ParseDeliveryType(" Pickup ")
	require.NoError(t, err)
	assert.Equal(t, DeliveryTypePickup, kind)

	_, err = ParseDeliveryType("drone")
	assert.Error(t, err)
}

func TestDeliveryVariantAccessors(t *testing.T) {
	var d Delivery = ShippingDelivery{Address: "1 Rue", City: "Paris", Zip: "75001"}
	ship, ok := ShippingOf(d)
	require.True(t, ok)
	assert.Equal(t, "Paris", ship.City)
	_, ok = PickupOf(d)
	assert.False(t, ok)

	d = &PickupDelivery{LocationID: "loc_1", Date: "2026-10-14", Time: "10:30"}
	pick, ok := PickupOf(d)
	require.True(t, ok)
	assert.Equal(t, "loc_1", pick.LocationID)
	assert.Equal(t, DeliveryTypePickup, d.Type())
}

func TestDeliverySettingsAllows(t *testing.T) {
	settings := DeliverySettings{ShippingEnabled: false, PickupEnabled: true}
	assert.False(t, settings.Allows(DeliveryTypeShipping))
	assert.True(t, settings.Allows(DeliveryTypePickup))
	assert.False(t, settings.Allows(DeliveryType("drone")))
}

func TestOrderStatusHelpers(t *testing.T) {
	assert.True(t, OrderStatusPendingCash.Valid())
	assert.False(t, OrderStatus("lost").Valid())
	assert.True(t, OrderStatusPending.AwaitingPayment())
	assert.False(t, OrderStatusPaid.AwaitingPayment())

	var refund *RefundState
	assert.False(t, refund.InFlight())
}
