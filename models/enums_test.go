package models

import "testing"

func TestCanTransitionTo_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusConfirmed, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s = %v, expected %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestCanTransitionTo_TerminalExits(t *testing.T) {
	// Cancelled/returned are reachable from any non-terminal state.
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusInTransit, OrderStatusInDelivery} {
		if !from.CanTransitionTo(OrderStatusCancelled) {
			t.Errorf("%s should be cancellable", from)
		}
		if !from.CanTransitionTo(OrderStatusReturned) {
			t.Errorf("%s should be returnable", from)
		}
	}
	// Delivered orders can no longer be cancelled, but carriers do report
	// post-delivery returns.
	if OrderStatusDelivered.CanTransitionTo(OrderStatusCancelled) {
		t.Errorf("delivered should not be cancellable")
	}
	if !OrderStatusDelivered.CanTransitionTo(OrderStatusReturned) {
		t.Errorf("delivered should accept a post-delivery return")
	}
	// Terminal exits accept nothing further.
	if OrderStatusCancelled.CanTransitionTo(OrderStatusShipped) {
		t.Errorf("cancelled should be final")
	}
	if OrderStatusReturned.CanTransitionTo(OrderStatusDelivered) {
		t.Errorf("returned should be final")
	}
}

func TestCostEligibility(t *testing.T) {
	if OrderStatusCancelled.ProductCostEligible() {
		t.Errorf("cancelled must not carry product cost")
	}
	if OrderStatusReturned.ProductCostEligible() {
		t.Errorf("returned must not carry product cost")
	}
	if !OrderStatusDelivered.ProductCostEligible() {
		t.Errorf("delivered must carry product cost")
	}
	// Confirmed orders have not shipped yet: product cost is committed,
	// shipping cost is not.
	if !OrderStatusConfirmed.ProductCostEligible() {
		t.Errorf("confirmed must carry product cost")
	}
	if OrderStatusConfirmed.ShippingCostEligible() {
		t.Errorf("confirmed must not carry shipping cost")
	}
	if !OrderStatusShipped.ShippingCostEligible() {
		t.Errorf("shipped must carry shipping cost")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusCancelled, OrderStatusReturned} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusShipped, OrderStatusDelivered} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
