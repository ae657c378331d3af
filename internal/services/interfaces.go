package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	DeliveryType       = domain.DeliveryType
	PaymentMethod      = domain.PaymentMethod
	Deliverer          = domain.Deliverer
	StatusChange       = domain.StatusChange
	Product            = domain.Product
	User               = domain.User
	Address            = domain.Address
	PricingBreakdown   = domain.PricingBreakdown
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService drives the order lifecycle: checkout, status progression and admin edits.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID int64, opts OrderReadOptions) (Order, error)
	PendingCount(ctx context.Context) (int, error)
	StatusHistory(ctx context.Context, orderID int64) ([]StatusChange, error)
	ProposeTransition(ctx context.Context, orderID int64) (TransitionProposal, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AddItem(ctx context.Context, cmd AddItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveItemCommand) (Order, error)
	OverrideTotal(ctx context.Context, cmd OverrideTotalCommand) (Order, error)
}

// DelivererService manages delivery staff.
type DelivererService interface {
	List(ctx context.Context) ([]Deliverer, error)
	Get(ctx context.Context, delivererID int64) (Deliverer, error)
	Create(ctx context.Context, cmd UpsertDelivererCommand) (Deliverer, error)
	Update(ctx context.Context, cmd UpsertDelivererCommand) (Deliverer, error)
	ToggleActive(ctx context.Context, delivererID int64) (Deliverer, error)
	Delete(ctx context.Context, delivererID int64) error
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CatalogLookup resolves catalog entries referenced by order lines. GetProduct and
// GetComplementNames fail with a not-found error for unknown ids; GetProducts omits them.
type CatalogLookup interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
	GetProducts(ctx context.Context, productIDs []int64) (map[int64]Product, error)
	GetComplementNames(ctx context.Context, complementIDs []int64) ([]string, error)
}

// UserDirectory resolves the customer and saved address consumed at order creation.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	GetAddress(ctx context.Context, userID, addressID int64) (Address, error)
}

// DelivererLookup validates deliverers assigned to orders. Reads made with a transactional ctx
// keep the deliverer stable until the transaction ends.
type DelivererLookup interface {
	FindByID(ctx context.Context, delivererID int64) (Deliverer, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StatusNotifier tells staff and customers about committed status changes.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, order Order, change StatusChange) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        int64
	UserID         int64
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	DelivererID    *int64
	TotalPrice     decimal.Decimal
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderReadOptions scopes order reads. When OwnerID is set, orders belonging to other users are
// reported as not found.
type OrderReadOptions struct {
	OwnerID *int64
}

// OrderLineInput describes one line of a new order. Exactly one of ProductID or Custom is set.
type OrderLineInput struct {
	ProductID     int64
	Quantity      int
	Price         *decimal.Decimal
	ComplementIDs []int64
	Custom        *CustomItemInput
}

// CustomItemInput is a customer-chosen value plus complements for a custom line.
type CustomItemInput struct {
	Kind          domain.CustomKind
	Value         decimal.Decimal
	ComplementIDs []int64
	Quantity      int
}

// CreateOrderCommand places a new order. AllowPriceOverride is only set on the admin path, where a
// line may carry a price that replaces the catalog price.
type CreateOrderCommand struct {
	UserID             int64
	ActorID            string
	AddressID          *int64
	DeliveryType       DeliveryType
	PaymentMethod      PaymentMethod
	DeliveryFee        decimal.Decimal
	Notes              string
	PrecisaTroco       bool
	ValorTroco         *decimal.Decimal
	Items              []OrderLineInput
	AllowPriceOverride bool
}

// TransitionProposal is the first half of the operator confirmation flow: it names the status an
// advance would move to and what the advance command must carry.
type TransitionProposal struct {
	OrderID              int64
	DeliveryType         DeliveryType
	Current              OrderStatus
	Next                 OrderStatus
	Terminal             bool
	RequiresDeliverer    bool
	RequiresConfirmation bool
	// Path is the full forward path for the order's delivery type, for progress displays.
	Path []OrderStatus
}

// AdvanceStatusCommand moves an order one step forward. TargetStatus defaults to the next status
// on the order's path; ExpectedStatus guards against stale clients.
type AdvanceStatusCommand struct {
	OrderID        int64
	TargetStatus   *OrderStatus
	DelivererID    *int64
	ExpectedStatus *OrderStatus
	Confirm        bool
	ActorID        string
}

// CancelOrderCommand cancels an order. OwnerID restricts the command to the customer's own orders.
type CancelOrderCommand struct {
	OrderID        int64
	OwnerID        *int64
	ExpectedStatus *OrderStatus
	ActorID        string
	Reason         string
}

// AddItemCommand appends a line to an open order. Price replaces the catalog price when present.
type AddItemCommand struct {
	OrderID        int64
	Line           OrderLineInput
	ExpectedStatus *OrderStatus
	ActorID        string
}

// RemoveItemCommand removes one line from an open order.
type RemoveItemCommand struct {
	OrderID        int64
	ItemID         int64
	ExpectedStatus *OrderStatus
	ActorID        string
}

// OverrideTotalCommand replaces the computed total with an operator supplied amount.
type OverrideTotalCommand struct {
	OrderID        int64
	Total          decimal.Decimal
	ExpectedStatus *OrderStatus
	ActorID        string
	Reason         string
}

// UpsertDelivererCommand carries deliverer fields for create and update. ID is ignored on create.
type UpsertDelivererCommand struct {
	ID       int64
	Name     string
	Phone    string
	Email    string
	IsActive *bool
}
