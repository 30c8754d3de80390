package services

import domain "github.com/sweet-shop/api/internal/domain"

// adminTransitions is the forward set AdvanceStatus accepts. Cancellation and
// pending to paid go through their own operations and never appear here.
var adminTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingCash: {domain.OrderStatusPaid, domain.OrderStatusConfirmed},
	domain.OrderStatusPaid:        {domain.OrderStatusConfirmed},
	domain.OrderStatusConfirmed:   {domain.OrderStatusPreparing},
	domain.OrderStatusPreparing:   {domain.OrderStatusReady, domain.OrderStatusProcessing},
	domain.OrderStatusReady:       {domain.OrderStatusShipped, domain.OrderStatusDelivered},
	domain.OrderStatusProcessing:  {domain.OrderStatusShipped, domain.OrderStatusDelivered},
	domain.OrderStatusShipped:     {domain.OrderStatusCompleted},
	domain.OrderStatusDelivered:   {domain.OrderStatusCompleted},
}

var customerCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPendingCash,
}

// awaitingPaymentStatuses move to paid when the gateway reports a paid session.
var awaitingPaymentStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPendingCash,
}

var cancelledStatuses = []domain.OrderStatus{domain.OrderStatusCancelled}

// refundableStatuses are the non-terminal statuses.
var refundableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPendingCash,
	domain.OrderStatusPaid,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPreparing,
	domain.OrderStatusReady,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

func canAdvance(from, to domain.OrderStatus) bool {
	for _, next := range adminTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isTerminal(status domain.OrderStatus) bool {
	return status == domain.OrderStatusCompleted || status == domain.OrderStatusCancelled
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}
