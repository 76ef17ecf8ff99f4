package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_CanTransition_HappyPath(t *testing.T) {
	path := []OrderStatus{
		OrderPending,
		OrderConfirmed,
		OrderProcessing,
		OrderShipped,
		OrderOutForDelivery,
		OrderDelivered,
	}

	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransition(path[i+1]),
			"expected %s -> %s to be allowed", path[i], path[i+1])
	}
}

func TestOrderStatus_CanTransition_RejectsBackwards(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
	}{
		{OrderDelivered, OrderProcessing},
		{OrderDelivered, OrderShipped},
		{OrderShipped, OrderConfirmed},
		{OrderCancelled, OrderConfirmed},
		{OrderRefunded, OrderPending},
		{OrderConfirmed, OrderDelivered},
		{OrderPending, OrderShipped},
	}

	for _, tc := range cases {
		assert.False(t, tc.from.CanTransition(tc.to),
			"expected %s -> %s to be rejected", tc.from, tc.to)
	}
}

func TestOrderStatus_FailedOnlyBeforeConfirmed(t *testing.T) {
	assert.True(t, OrderPending.CanTransition(OrderFailed))

	for _, s := range []OrderStatus{OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered} {
		assert.False(t, s.CanTransition(OrderFailed),
			"expected %s -> FAILED to be rejected", s)
	}
}

func TestOrderStatus_CancellableWindow(t *testing.T) {
	assert.True(t, OrderPending.Cancellable())
	assert.True(t, OrderConfirmed.Cancellable())
	assert.True(t, OrderProcessing.Cancellable())

	assert.False(t, OrderShipped.Cancellable())
	assert.False(t, OrderDelivered.Cancellable())
	assert.False(t, OrderCancelled.Cancellable())
}

func TestOrderStatus_RefundedReachableFromCancelledAndReturned(t *testing.T) {
	assert.True(t, OrderCancelled.CanTransition(OrderRefunded))
	assert.True(t, OrderReturned.CanTransition(OrderRefunded))
	assert.True(t, OrderDelivered.CanTransition(OrderReturned))
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, OrderFailed.Terminal())
	assert.True(t, OrderRefunded.Terminal())

	// CANCELLED and RETURNED can still move to REFUNDED.
	assert.False(t, OrderCancelled.Terminal())
	assert.False(t, OrderReturned.Terminal())
	assert.False(t, OrderPending.Terminal())
}

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, OrderProcessing.Valid())
	assert.False(t, OrderStatus("SHIPPED_MAYBE").Valid())
	assert.False(t, OrderStatus("").Valid())
}
