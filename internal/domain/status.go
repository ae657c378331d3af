package domain

import (
	"fmt"
	"strings"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusBeingPrepared  OrderStatus = "being_prepared"
	OrderStatusOnTheWay       OrderStatus = "on_the_way"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCanceled       OrderStatus = "canceled"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusBeingPrepared,
	OrderStatusOnTheWay,
	OrderStatusReadyForPickup,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// IsTerminal reports whether no further transition is possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// IsCancellable reports whether an order in this status may still be canceled.
func (s OrderStatus) IsCancellable() bool {
	return s == OrderStatusPendingPayment || s == OrderStatusBeingPrepared
}

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseOrderStatus normalises and validates a status string.
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", value)
	}
	return status, nil
}

// DeliveryType distinguishes orders carried to the customer from orders collected in store.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

// ParseDeliveryType normalises and validates a delivery type string.
func ParseDeliveryType(value string) (DeliveryType, error) {
	switch dt := DeliveryType(strings.ToLower(strings.TrimSpace(value))); dt {
	case DeliveryTypeDelivery, DeliveryTypePickup:
		return dt, nil
	default:
		return "", fmt.Errorf("unknown delivery type %q", value)
	}
}

// PaymentMethod is how the customer pays for the order.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "CREDIT_CARD"
	PaymentMethodPix            PaymentMethod = "PIX"
	PaymentMethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

// ParsePaymentMethod normalises and validates a payment method string.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	switch pm := PaymentMethod(strings.ToUpper(strings.TrimSpace(value))); pm {
	case PaymentMethodCreditCard, PaymentMethodPix, PaymentMethodCashOnDelivery:
		return pm, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", value)
	}
}

type transitionKey struct {
	status   OrderStatus
	delivery DeliveryType
}

// forwardTransitions is the forward path per delivery type. being_prepared is the only state whose
// successor depends on the delivery type.
var forwardTransitions = map[transitionKey]OrderStatus{
	{OrderStatusPendingPayment, DeliveryTypeDelivery}: OrderStatusBeingPrepared,
	{OrderStatusPendingPayment, DeliveryTypePickup}:   OrderStatusBeingPrepared,
	{OrderStatusBeingPrepared, DeliveryTypeDelivery}:  OrderStatusOnTheWay,
	{OrderStatusBeingPrepared, DeliveryTypePickup}:    OrderStatusReadyForPickup,
	{OrderStatusOnTheWay, DeliveryTypeDelivery}:       OrderStatusDelivered,
	{OrderStatusReadyForPickup, DeliveryTypePickup}:   OrderStatusDelivered,
}

// NextStatus returns the successor of current along the path for the delivery type. Terminal states
// are fixed points. A status that is not on the delivery type's path (ready_for_pickup on a
// delivery order, on_the_way on a pickup order) is returned unchanged as well; such an order can
// only be canceled or corrected by hand.
func NextStatus(current OrderStatus, deliveryType DeliveryType) OrderStatus {
	next, _ := Successor(current, deliveryType)
	return next
}

// Successor is NextStatus plus a flag telling whether the order actually moves.
func Successor(current OrderStatus, deliveryType DeliveryType) (OrderStatus, bool) {
	next, ok := forwardTransitions[transitionKey{current, deliveryType}]
	if !ok {
		return current, false
	}
	return next, true
}

// StatusPath lists the forward path for the delivery type starting at pending_payment.
func StatusPath(deliveryType DeliveryType) []OrderStatus {
	path := []OrderStatus{OrderStatusPendingPayment}
	current := OrderStatusPendingPayment
	for {
		next, ok := Successor(current, deliveryType)
		if !ok {
			return path
		}
		path = append(path, next)
		current = next
	}
}

// RequiresDeliverer reports whether moving from -> to needs an assigned deliverer.
func RequiresDeliverer(from, to OrderStatus, deliveryType DeliveryType) bool {
	return deliveryType == DeliveryTypeDelivery && from == OrderStatusBeingPrepared && to == OrderStatusOnTheWay
}

// RequiresConfirmation reports whether the operator must acknowledge the destination explicitly.
func RequiresConfirmation(to OrderStatus) bool {
	return to == OrderStatusDelivered
}
