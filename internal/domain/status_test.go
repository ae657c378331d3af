package domain

import (
	"reflect"
	"testing"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		name     string
		current  OrderStatus
		delivery DeliveryType
		want     OrderStatus
	}{
		{"pending delivery", OrderStatusPendingPayment, DeliveryTypeDelivery, OrderStatusBeingPrepared},
		{"pending pickup", OrderStatusPendingPayment, DeliveryTypePickup, OrderStatusBeingPrepared},
		{"preparing delivery", OrderStatusBeingPrepared, DeliveryTypeDelivery, OrderStatusOnTheWay},
		{"preparing pickup", OrderStatusBeingPrepared, DeliveryTypePickup, OrderStatusReadyForPickup},
		{"on the way", OrderStatusOnTheWay, DeliveryTypeDelivery, OrderStatusDelivered},
		{"ready for pickup", OrderStatusReadyForPickup, DeliveryTypePickup, OrderStatusDelivered},
		{"delivered is fixed", OrderStatusDelivered, DeliveryTypeDelivery, OrderStatusDelivered},
		{"canceled is fixed", OrderStatusCanceled, DeliveryTypePickup, OrderStatusCanceled},
		{"off path stays", OrderStatusOnTheWay, DeliveryTypePickup, OrderStatusOnTheWay},
		{"pickup state on delivery order stays", OrderStatusReadyForPickup, DeliveryTypeDelivery, OrderStatusReadyForPickup},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextStatus(tc.current, tc.delivery); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSuccessorReportsFixedPoints(t *testing.T) {
	if _, moves := Successor(OrderStatusDelivered, DeliveryTypeDelivery); moves {
		t.Fatalf("delivered must not move")
	}
	if _, moves := Successor(OrderStatusReadyForPickup, DeliveryTypeDelivery); moves {
		t.Fatalf("ready_for_pickup is not on the delivery path and must not move")
	}
	if next, moves := Successor(OrderStatusBeingPrepared, DeliveryTypePickup); !moves || next != OrderStatusReadyForPickup {
		t.Fatalf("expected ready_for_pickup, got %s (moves=%v)", next, moves)
	}
}

func TestStatusPath(t *testing.T) {
	delivery := StatusPath(DeliveryTypeDelivery)
	want := []OrderStatus{OrderStatusPendingPayment, OrderStatusBeingPrepared, OrderStatusOnTheWay, OrderStatusDelivered}
	if !reflect.DeepEqual(delivery, want) {
		t.Fatalf("expected %v, got %v", want, delivery)
	}
	pickup := StatusPath(DeliveryTypePickup)
	want = []OrderStatus{OrderStatusPendingPayment, OrderStatusBeingPrepared, OrderStatusReadyForPickup, OrderStatusDelivered}
	if !reflect.DeepEqual(pickup, want) {
		t.Fatalf("expected %v, got %v", want, pickup)
	}
}

func TestRequiresDeliverer(t *testing.T) {
	if !RequiresDeliverer(OrderStatusBeingPrepared, OrderStatusOnTheWay, DeliveryTypeDelivery) {
		t.Fatalf("on_the_way must require a deliverer")
	}
	if RequiresDeliverer(OrderStatusBeingPrepared, OrderStatusReadyForPickup, DeliveryTypePickup) {
		t.Fatalf("pickup orders never need a deliverer")
	}
	if RequiresDeliverer(OrderStatusOnTheWay, OrderStatusDelivered, DeliveryTypeDelivery) {
		t.Fatalf("delivered keeps the existing deliverer")
	}
	if !RequiresConfirmation(OrderStatusDelivered) || RequiresConfirmation(OrderStatusOnTheWay) {
		t.Fatalf("only delivered needs confirmation")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !OrderStatusCanceled.IsTerminal() || OrderStatusOnTheWay.IsTerminal() {
		t.Fatalf("unexpected terminal classification")
	}
	if !OrderStatusBeingPrepared.IsCancellable() || OrderStatusOnTheWay.IsCancellable() {
		t.Fatalf("unexpected cancellable classification")
	}
}

func TestParseEnums(t *testing.T) {
	if status, err := ParseOrderStatus(" Being_Prepared "); err != nil || status != OrderStatusBeingPrepared {
		t.Fatalf("expected being_prepared, got %q (%v)", status, err)
	}
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if dt, err := ParseDeliveryType("PICKUP"); err != nil || dt != DeliveryTypePickup {
		t.Fatalf("expected pickup, got %q (%v)", dt, err)
	}
	if _, err := ParseDeliveryType("drone"); err == nil {
		t.Fatalf("expected error for unknown delivery type")
	}
	if pm, err := ParsePaymentMethod("pix"); err != nil || pm != PaymentMethodPix {
		t.Fatalf("expected PIX, got %q (%v)", pm, err)
	}
	if _, err := ParsePaymentMethod("BOLETO"); err == nil {
		t.Fatalf("expected error for unknown payment method")
	}
}
