// Package firestore implements the repository ports on Cloud Firestore. Orders embed their items in
// one document; status history lives in a per-order subcollection.
package firestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/acai-shop/api/internal/domain"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/repositories"
)

const (
	ordersCollection          = "orders"
	statusHistoryCollection   = "statusHistory"
	deliverersCollection      = "deliverers"
	delivererPhonesCollection = "delivererPhones"
	productsCollection        = "products"
	complementsCollection     = "complements"
	usersCollection           = "users"
	addressesCollection       = "addresses"
)

// Store implements repositories.Registry.
type Store struct {
	provider  *pfirestore.Provider
	sequences *SequenceRepository
	now       func() time.Time
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wires the repositories on top of provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store: provider is required")
	}
	return &Store{provider: provider, sequences: newSequenceRepository(provider, time.Now), now: time.Now}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s} }
func (s *Store) Deliverers() repositories.DelivererRepository { return delivererRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository       { return catalogRepository{s} }
func (s *Store) Users() repositories.UserRepository            { return userRepository{s} }
func (s *Store) Addresses() repositories.AddressRepository     { return addressRepository{s} }

// Sequences exposes the id allocator so operators can seed numbering after an import.
func (s *Store) Sequences() *SequenceRepository { return s.sequences }

// txState remembers the order statuses read inside one transaction attempt. Firestore rejects reads
// issued after a write, so Update checks its expected status against what FindByID already saw.
type txState struct {
	orderStatus map[int64]domain.OrderStatus
}

type txStateKey struct{}

func stateFromContext(ctx context.Context) *txState {
	state, _ := ctx.Value(txStateKey{}).(*txState)
	return state
}

// RunInTx runs fn in a Firestore transaction. Every read in fn must happen before its first write.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		// fn may be retried; each attempt starts with a clean state.
		ctx = context.WithValue(ctx, txStateKey{}, &txState{orderStatus: map[int64]domain.OrderStatus{}})
		return fn(ctx)
	})
}

func (s *Store) collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

func (s *Store) doc(ctx context.Context, collection string, id int64) (*firestore.DocumentRef, error) {
	coll, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(docID(id)), nil
}

// get reads through the open transaction when there is one.
func (s *Store) get(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }
