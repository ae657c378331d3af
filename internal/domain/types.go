package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Order is a single customer purchase together with its line items.
type Order struct {
	ID            int64
	UserID        int64
	Status        OrderStatus
	DeliveryType  DeliveryType
	TotalPrice    decimal.Decimal
	DeliveryFee   decimal.Decimal
	PaymentMethod PaymentMethod
	Notes         string
	PrecisaTroco  bool
	ValorTroco    *decimal.Decimal
	Shipping      ShippingSnapshot
	DelivererID   *int64
	Items         []OrderItem
	// TotalOverridden is set when an admin replaced the computed total by hand.
	TotalOverridden bool
	// LastItemID is the highest item id ever handed out on the order. It never goes down, so a
	// removed line's id is not given to a later line.
	LastItemID int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsTerminal reports whether the order can no longer change.
func (o Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// FindItem returns the index of the item with the given id or -1.
func (o Order) FindItem(itemID int64) int {
	for i, item := range o.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// AllocateItemID hands out the next item id and advances LastItemID past every existing line.
func (o *Order) AllocateItemID() int64 {
	for _, item := range o.Items {
		if item.ID > o.LastItemID {
			o.LastItemID = item.ID
		}
	}
	o.LastItemID++
	return o.LastItemID
}

// AssignItemIDs numbers every line that has no id yet and raises LastItemID to cover all lines.
func (o *Order) AssignItemIDs() {
	for _, item := range o.Items {
		if item.ID > o.LastItemID {
			o.LastItemID = item.ID
		}
	}
	for i := range o.Items {
		if o.Items[i].ID == 0 {
			o.LastItemID++
			o.Items[i].ID = o.LastItemID
		}
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (o Order) Clone() Order {
	cloned := o
	if o.ValorTroco != nil {
		v := *o.ValorTroco
		cloned.ValorTroco = &v
	}
	if o.DelivererID != nil {
		id := *o.DelivererID
		cloned.DelivererID = &id
	}
	if o.Items != nil {
		cloned.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			cloned.Items[i] = item.Clone()
		}
	}
	return cloned
}

// OrderItem is one product line inside an order. PriceAtOrder is the unit price frozen at the
// time the line was created.
type OrderItem struct {
	ID              int64
	OrderID         int64
	ProductID       int64
	Quantity        int
	PriceAtOrder    decimal.Decimal
	ComplementIDs   []int64
	SelectedOptions *SelectedOptionsSnapshot
}

// Clone returns a deep copy of the item.
func (i OrderItem) Clone() OrderItem {
	cloned := i
	if i.ComplementIDs != nil {
		cloned.ComplementIDs = append([]int64(nil), i.ComplementIDs...)
	}
	if i.SelectedOptions != nil {
		snapshot := i.SelectedOptions.Clone()
		cloned.SelectedOptions = &snapshot
	}
	return cloned
}

// ShippingSnapshot freezes the delivery address at order creation.
type ShippingSnapshot struct {
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	Phone        string
}

// IsZero reports whether no address fields were captured (pickup orders).
func (s ShippingSnapshot) IsZero() bool {
	return s == ShippingSnapshot{}
}

// Deliverer is a member of the delivery staff.
type Deliverer struct {
	ID              int64
	Name            string
	Phone           string
	Email           string
	IsActive        bool
	TotalDeliveries int
	CreatedAt       time.Time
}

// StatusChange records a committed status transition for an order.
type StatusChange struct {
	OrderID     int64
	From        OrderStatus
	To          OrderStatus
	ActorID     string
	DelivererID *int64
	OccurredAt  time.Time
}

// Product is the catalog view needed by the order core.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// Complement is an optional topping attachable to a product or a custom item.
type Complement struct {
	ID       int64
	Name     string
	IsActive bool
}

// User is the customer record consumed at order creation.
type User struct {
	ID    int64
	Name  string
	Phone string
	Role  string
}

// Address is a saved customer address; it is copied into a ShippingSnapshot when an order is placed.
type Address struct {
	ID           int64
	UserID       int64
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	Phone        string
}

// Snapshot copies the address into the immutable order representation.
func (a Address) Snapshot() ShippingSnapshot {
	return ShippingSnapshot{
		Street:       a.Street,
		Number:       a.Number,
		Complement:   a.Complement,
		Neighborhood: a.Neighborhood,
		Phone:        a.Phone,
	}
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded means an optional dependency (events, notifications) is failing. Orders are
	// still accepted.
	HealthStatusDegraded = "degraded"
	// HealthStatusError means the order store or the idempotency store is unreachable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for the readiness endpoint. PendingOrders is nil
// when the backlog could not be counted.
type SystemHealthReport struct {
	Status        string
	Checks        map[string]SystemHealthCheck
	PendingOrders *int
	Version       string
	CommitSHA     string
	Environment   string
	Uptime        time.Duration
	GeneratedAt   time.Time
}
