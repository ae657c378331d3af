package repositories

import (
	"context"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Deliverers() DelivererRepository
	Catalog() CatalogRepository
	Users() UserRepository
	Addresses() AddressRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary. Repository calls
// made with the ctx handed to fn join the transaction; order reads inside it lock the row until
// fn returns.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders with their items and status history.
type OrderRepository interface {
	// Insert stores a new order and returns it with the generated order and item ids.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	// Update replaces the stored order. It fails with a conflict error when the stored status no
	// longer equals expectedStatus.
	Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	CountByStatus(ctx context.Context, statuses []domain.OrderStatus) (int, error)
	// DeliveredCounts returns the number of delivered orders per deliverer id.
	DeliveredCounts(ctx context.Context) (map[int64]int, error)
	AppendStatusChange(ctx context.Context, change domain.StatusChange) error
	ListStatusChanges(ctx context.Context, orderID int64) ([]domain.StatusChange, error)
}

// DelivererRepository persists delivery staff.
type DelivererRepository interface {
	Insert(ctx context.Context, deliverer domain.Deliverer) (domain.Deliverer, error)
	Update(ctx context.Context, deliverer domain.Deliverer) error
	Delete(ctx context.Context, delivererID int64) error
	FindByID(ctx context.Context, delivererID int64) (domain.Deliverer, error)
	// FindByPhone looks up a deliverer by normalised phone digits.
	FindByPhone(ctx context.Context, phone string) (domain.Deliverer, error)
	List(ctx context.Context) ([]domain.Deliverer, error)
}

// CatalogRepository resolves the products and complements referenced by order items. Missing ids are
// absent from the returned maps rather than reported as errors.
type CatalogRepository interface {
	FindProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
	FindComplements(ctx context.Context, complementIDs []int64) (map[int64]domain.Complement, error)
}

// UserRepository reads customer records.
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (domain.User, error)
}

// AddressRepository reads saved customer addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, userID, addressID int64) (domain.Address, error)
}

// SequenceRepository hands out order and deliverer ids for stores without native sequences.
type SequenceRepository interface {
	Next(ctx context.Context, sequence string) (int64, error)
	Configure(ctx context.Context, sequence string, cfg SequenceConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings. Results are ordered newest first.
type OrderListFilter struct {
	UserID       *int64
	Statuses     []domain.OrderStatus
	DeliveryType domain.DeliveryType
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

// SequenceConfig seeds a sequence, e.g. to continue numbering after a migration from another
// store. Nil fields are left untouched.
type SequenceConfig struct {
	Last  *int64
	Limit *int64
}

// Sequence names used for stores that allocate numeric ids themselves.
const (
	SequenceOrders     = "orders"
	SequenceDeliverers = "deliverers"
)
