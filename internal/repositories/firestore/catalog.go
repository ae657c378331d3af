package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/acai-shop/api/internal/domain"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
)

type productDocument struct {
	Name     string `firestore:"name"`
	Price    string `firestore:"price"`
	IsActive bool   `firestore:"isActive"`
}

type complementDocument struct {
	Name     string `firestore:"name"`
	IsActive bool   `firestore:"isActive"`
}

type userDocument struct {
	Name  string `firestore:"name"`
	Phone string `firestore:"phone"`
	Role  string `firestore:"role"`
}

type addressDocument struct {
	Street       string `firestore:"street"`
	Number       string `firestore:"number"`
	Complement   string `firestore:"complement"`
	Neighborhood string `firestore:"neighborhood"`
	Phone        string `firestore:"phone"`
}

type catalogRepository struct{ s *Store }

func (r catalogRepository) FindProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	err := r.getAll(ctx, productsCollection, productIDs, func(id int64, snap *firestore.DocumentSnapshot) error {
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore: decode product %d: %w", id, err)
		}
		price, err := decimal.NewFromString(doc.Price)
		if err != nil {
			return fmt.Errorf("firestore: decode product %d price: %w", id, err)
		}
		out[id] = domain.Product{ID: id, Name: doc.Name, Price: price, IsActive: doc.IsActive}
		return nil
	})
	return out, err
}

func (r catalogRepository) FindComplements(ctx context.Context, complementIDs []int64) (map[int64]domain.Complement, error) {
	out := make(map[int64]domain.Complement, len(complementIDs))
	err := r.getAll(ctx, complementsCollection, complementIDs, func(id int64, snap *firestore.DocumentSnapshot) error {
		var doc complementDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore: decode complement %d: %w", id, err)
		}
		out[id] = domain.Complement{ID: id, Name: doc.Name, IsActive: doc.IsActive}
		return nil
	})
	return out, err
}

// getAll batch-reads ids and calls fn for each document that exists. Catalog lookups never join the
// order transaction since products are not written by order operations.
func (r catalogRepository) getAll(ctx context.Context, collection string, ids []int64, fn func(int64, *firestore.DocumentSnapshot) error) error {
	if len(ids) == 0 {
		return nil
	}
	client, err := r.s.provider.Client(ctx)
	if err != nil {
		return err
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = client.Collection(collection).Doc(docID(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return pfirestore.WrapError("read "+collection, err)
	}
	for i, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		if err := fn(ids[i], snap); err != nil {
			return err
		}
	}
	return nil
}

type userRepository struct{ s *Store }

func (r userRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	ref, err := r.s.doc(ctx, usersCollection, userID)
	if err != nil {
		return domain.User{}, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.User{}, pfirestore.NotFound("find user", "user")
	}
	if err != nil {
		return domain.User{}, pfirestore.WrapError("find user", err)
	}
	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.User{}, fmt.Errorf("firestore: decode user %d: %w", userID, err)
	}
	return domain.User{ID: userID, Name: doc.Name, Phone: doc.Phone, Role: doc.Role}, nil
}

type addressRepository struct{ s *Store }

// FindByID reads users/{userID}/addresses/{addressID}, so another customer's address is never found.
func (r addressRepository) FindByID(ctx context.Context, userID, addressID int64) (domain.Address, error) {
	user, err := r.s.doc(ctx, usersCollection, userID)
	if err != nil {
		return domain.Address{}, err
	}
	snap, err := user.Collection(addressesCollection).Doc(docID(addressID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.Address{}, pfirestore.NotFound("find address", "address")
	}
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("find address", err)
	}
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("firestore: decode address %d: %w", addressID, err)
	}
	return domain.Address{
		ID:           addressID,
		UserID:       userID,
		Street:       doc.Street,
		Number:       doc.Number,
		Complement:   doc.Complement,
		Neighborhood: doc.Neighborhood,
		Phone:        doc.Phone,
	}, nil
}
