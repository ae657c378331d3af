// Package memory provides a process-local Registry used for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/platform/pagination"
	"github.com/acai-shop/api/internal/repositories"
)

type txKey struct{}

// Store keeps every collection in maps guarded by a single mutex. RunInTx serialises transactions
// and, when fn fails, undoes the writes fn made. Writes made outside the transaction are kept.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	now  func() time.Time

	orders      map[int64]domain.Order
	history     map[int64][]domain.StatusChange
	deliverers  map[int64]domain.Deliverer
	products    map[int64]domain.Product
	complements map[int64]domain.Complement
	users       map[int64]domain.User
	addresses   map[int64]domain.Address

	// Ids are never handed out twice, even when the transaction that took one rolls back.
	lastOrderID     int64
	lastDelivererID int64
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the time source used for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		orders:      make(map[int64]domain.Order),
		history:     make(map[int64][]domain.StatusChange),
		deliverers:  make(map[int64]domain.Deliverer),
		products:    make(map[int64]domain.Product),
		complements: make(map[int64]domain.Complement),
		users:       make(map[int64]domain.User),
		addresses:   make(map[int64]domain.Address),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s} }
func (s *Store) Deliverers() repositories.DelivererRepository { return delivererRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository       { return catalogRepository{s} }
func (s *Store) Users() repositories.UserRepository            { return userRepository{s} }
func (s *Store) Addresses() repositories.AddressRepository     { return addressRepository{s} }

// RunInTx runs fn under the store-wide transaction lock. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txLog{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		s.rollback(tx)
		return err
	}
	return nil
}

// Seed helpers populate catalog and customer data that the order core only reads.

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) PutComplement(complement domain.Complement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complements[complement.ID] = complement
}

func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) PutAddress(address domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[address.ID] = address
}

// DeleteProduct removes a product, leaving any order items that reference it orphaned.
func (s *Store) DeleteProduct(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, productID)
}

// txLog collects one undo step per write made inside a transaction.
type txLog struct {
	undo []func()
}

func txFrom(ctx context.Context) *txLog {
	tx, _ := ctx.Value(txKey{}).(*txLog)
	return tx
}

func (s *Store) rollback(tx *txLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// The remember helpers must run with s.mu held, before the write they guard.

func (s *Store) rememberOrder(ctx context.Context, orderID int64) {
	tx := txFrom(ctx)
	if tx == nil {
		return
	}
	previous, existed := s.orders[orderID]
	if existed {
		previous = previous.Clone()
	}
	tx.undo = append(tx.undo, func() {
		if existed {
			s.orders[orderID] = previous
		} else {
			delete(s.orders, orderID)
		}
	})
}

func (s *Store) rememberHistory(ctx context.Context, orderID int64) {
	tx := txFrom(ctx)
	if tx == nil {
		return
	}
	previous, existed := s.history[orderID]
	previous = append([]domain.StatusChange(nil), previous...)
	tx.undo = append(tx.undo, func() {
		if existed {
			s.history[orderID] = previous
		} else {
			delete(s.history, orderID)
		}
	})
}

func (s *Store) rememberDeliverer(ctx context.Context, delivererID int64) {
	tx := txFrom(ctx)
	if tx == nil {
		return
	}
	previous, existed := s.deliverers[delivererID]
	tx.undo = append(tx.undo, func() {
		if existed {
			s.deliverers[delivererID] = previous
		} else {
			delete(s.deliverers, delivererID)
		}
	})
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.lastOrderID++
	stored := order.Clone()
	stored.ID = r.s.lastOrderID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.s.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	stored.AssignItemIDs()
	for i := range stored.Items {
		stored.Items[i].OrderID = stored.ID
	}
	r.s.rememberOrder(ctx, stored.ID)
	r.s.orders[stored.ID] = stored
	return stored.Clone(), nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.orders[order.ID]
	if !ok {
		return notFound("order")
	}
	if current.Status != expectedStatus {
		return conflict("order status changed")
	}
	stored := order.Clone()
	for i := range stored.Items {
		stored.Items[i].OrderID = stored.ID
	}
	if stored.LastItemID < current.LastItemID {
		stored.LastItemID = current.LastItemID
	}
	r.s.rememberOrder(ctx, order.ID)
	r.s.orders[order.ID] = stored
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID int64) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order")
	}
	return order.Clone(), nil
}

func (r orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, invalid(err)
	}

	r.s.mu.RLock()
	matched := make([]domain.Order, 0, len(r.s.orders))
	for _, order := range r.s.orders {
		if matchesFilter(order, filter) && cursor.After(order.CreatedAt, order.ID) {
			matched = append(matched, order.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	size := filter.Pagination.PageSize
	if size > 0 && len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	return page, nil
}

func (r orderRepository) CountByStatus(_ context.Context, statuses []domain.OrderStatus) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, order := range r.s.orders {
		if containsStatus(statuses, order.Status) {
			count++
		}
	}
	return count, nil
}

func (r orderRepository) DeliveredCounts(context.Context) (map[int64]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[int64]int)
	for _, order := range r.s.orders {
		if order.Status == domain.OrderStatusDelivered && order.DelivererID != nil {
			counts[*order.DelivererID]++
		}
	}
	return counts, nil
}

func (r orderRepository) AppendStatusChange(ctx context.Context, change domain.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[change.OrderID]; !ok {
		return notFound("order")
	}
	r.s.rememberHistory(ctx, change.OrderID)
	r.s.history[change.OrderID] = append(r.s.history[change.OrderID], change)
	return nil
}

func (r orderRepository) ListStatusChanges(_ context.Context, orderID int64) ([]domain.StatusChange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.orders[orderID]; !ok {
		return nil, notFound("order")
	}
	return append([]domain.StatusChange(nil), r.s.history[orderID]...), nil
}

func matchesFilter(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.UserID != nil && order.UserID != *filter.UserID {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, order.Status) {
		return false
	}
	if filter.DeliveryType != "" && order.DeliveryType != filter.DeliveryType {
		return false
	}
	if from := filter.DateRange.From; from != nil && order.CreatedAt.Before(*from) {
		return false
	}
	if to := filter.DateRange.To; to != nil && order.CreatedAt.After(*to) {
		return false
	}
	return true
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

type delivererRepository struct{ s *Store }

func (r delivererRepository) Insert(ctx context.Context, deliverer domain.Deliverer) (domain.Deliverer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.deliverers {
		if existing.Phone == deliverer.Phone {
			return domain.Deliverer{}, conflict("deliverer phone already registered")
		}
	}
	r.s.lastDelivererID++
	deliverer.ID = r.s.lastDelivererID
	if deliverer.CreatedAt.IsZero() {
		deliverer.CreatedAt = r.s.now().UTC()
	}
	r.s.rememberDeliverer(ctx, deliverer.ID)
	r.s.deliverers[deliverer.ID] = deliverer
	return deliverer, nil
}

func (r delivererRepository) Update(ctx context.Context, deliverer domain.Deliverer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliverers[deliverer.ID]; !ok {
		return notFound("deliverer")
	}
	for id, existing := range r.s.deliverers {
		if id != deliverer.ID && existing.Phone == deliverer.Phone {
			return conflict("deliverer phone already registered")
		}
	}
	r.s.rememberDeliverer(ctx, deliverer.ID)
	r.s.deliverers[deliverer.ID] = deliverer
	return nil
}

func (r delivererRepository) Delete(ctx context.Context, delivererID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliverers[delivererID]; !ok {
		return notFound("deliverer")
	}
	r.s.rememberDeliverer(ctx, delivererID)
	delete(r.s.deliverers, delivererID)
	return nil
}

func (r delivererRepository) FindByID(_ context.Context, delivererID int64) (domain.Deliverer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	deliverer, ok := r.s.deliverers[delivererID]
	if !ok {
		return domain.Deliverer{}, notFound("deliverer")
	}
	return deliverer, nil
}

func (r delivererRepository) FindByPhone(_ context.Context, phone string) (domain.Deliverer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, deliverer := range r.s.deliverers {
		if deliverer.Phone == phone {
			return deliverer, nil
		}
	}
	return domain.Deliverer{}, notFound("deliverer")
}

func (r delivererRepository) List(context.Context) ([]domain.Deliverer, error) {
	r.s.mu.RLock()
	out := make([]domain.Deliverer, 0, len(r.s.deliverers))
	for _, deliverer := range r.s.deliverers {
		out = append(out, deliverer)
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type catalogRepository struct{ s *Store }

func (r catalogRepository) FindProducts(_ context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[int64]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r catalogRepository) FindComplements(_ context.Context, complementIDs []int64) (map[int64]domain.Complement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[int64]domain.Complement, len(complementIDs))
	for _, id := range complementIDs {
		if complement, ok := r.s.complements[id]; ok {
			out[id] = complement
		}
	}
	return out, nil
}

type userRepository struct{ s *Store }

func (r userRepository) FindByID(_ context.Context, userID int64) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.User{}, notFound("user")
	}
	return user, nil
}

type addressRepository struct{ s *Store }

func (r addressRepository) FindByID(_ context.Context, userID, addressID int64) (domain.Address, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	address, ok := r.s.addresses[addressID]
	if !ok || address.UserID != userID {
		return domain.Address{}, notFound("address")
	}
	return address, nil
}
