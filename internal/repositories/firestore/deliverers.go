package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/acai-shop/api/internal/domain"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/repositories"
)

type delivererDocument struct {
	ID        int64     `firestore:"id"`
	Name      string    `firestore:"name"`
	Phone     string    `firestore:"phone"`
	Email     string    `firestore:"email"`
	IsActive  bool      `firestore:"isActive"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// phoneClaim reserves a phone number for one deliverer; creating it twice fails with AlreadyExists.
type phoneClaim struct {
	DelivererID int64 `firestore:"delivererId"`
}

type delivererRepository struct{ s *Store }

func (r delivererRepository) Insert(ctx context.Context, deliverer domain.Deliverer) (domain.Deliverer, error) {
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		id, err := r.s.sequences.Next(ctx, repositories.SequenceDeliverers)
		if err != nil {
			return err
		}
		deliverer.ID = id
		if deliverer.CreatedAt.IsZero() {
			deliverer.CreatedAt = r.s.now().UTC()
		}
		ref, phoneRef, err := r.refs(ctx, id, deliverer.Phone)
		if err != nil {
			return err
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		if err := tx.Create(phoneRef, phoneClaim{DelivererID: id}); err != nil {
			return err
		}
		return tx.Create(ref, encodeDeliverer(deliverer))
	})
	if err != nil {
		return domain.Deliverer{}, pfirestore.WrapError("insert deliverer", err)
	}
	return deliverer, nil
}

func (r delivererRepository) Update(ctx context.Context, deliverer domain.Deliverer) error {
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		ref, phoneRef, err := r.refs(ctx, deliverer.ID, deliverer.Phone)
		if err != nil {
			return err
		}
		current, err := r.read(ctx, ref)
		if err != nil {
			return err
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		if current.Phone != deliverer.Phone {
			if err := tx.Create(phoneRef, phoneClaim{DelivererID: deliverer.ID}); err != nil {
				return err
			}
			if err := tx.Delete(phoneRef.Parent.Doc(current.Phone)); err != nil {
				return err
			}
		}
		deliverer.CreatedAt = current.CreatedAt
		return tx.Set(ref, encodeDeliverer(deliverer))
	})
	return pfirestore.WrapError("update deliverer", err)
}

func (r delivererRepository) Delete(ctx context.Context, delivererID int64) error {
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := r.s.doc(ctx, deliverersCollection, delivererID)
		if err != nil {
			return err
		}
		current, err := r.read(ctx, ref)
		if err != nil {
			return err
		}
		phones, err := r.s.collection(ctx, delivererPhonesCollection)
		if err != nil {
			return err
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		if err := tx.Delete(phones.Doc(current.Phone)); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	return pfirestore.WrapError("delete deliverer", err)
}

func (r delivererRepository) FindByID(ctx context.Context, delivererID int64) (domain.Deliverer, error) {
	ref, err := r.s.doc(ctx, deliverersCollection, delivererID)
	if err != nil {
		return domain.Deliverer{}, err
	}
	deliverer, err := r.read(ctx, ref)
	return deliverer, pfirestore.WrapError("find deliverer", err)
}

func (r delivererRepository) FindByPhone(ctx context.Context, phone string) (domain.Deliverer, error) {
	phones, err := r.s.collection(ctx, delivererPhonesCollection)
	if err != nil {
		return domain.Deliverer{}, err
	}
	snap, err := r.s.get(ctx, phones.Doc(phone))
	if status.Code(err) == codes.NotFound {
		return domain.Deliverer{}, pfirestore.NotFound("find deliverer by phone", "deliverer")
	}
	if err != nil {
		return domain.Deliverer{}, pfirestore.WrapError("find deliverer by phone", err)
	}
	var claim phoneClaim
	if err := snap.DataTo(&claim); err != nil {
		return domain.Deliverer{}, fmt.Errorf("firestore: decode phone claim: %w", err)
	}
	return r.FindByID(ctx, claim.DelivererID)
}

func (r delivererRepository) List(ctx context.Context) ([]domain.Deliverer, error) {
	coll, err := r.s.collection(ctx, deliverersCollection)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.OrderBy("name", firestore.Asc).OrderBy("id", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("list deliverers", err)
	}
	deliverers := make([]domain.Deliverer, 0, len(snaps))
	for _, snap := range snaps {
		deliverer, err := decodeDeliverer(snap)
		if err != nil {
			return nil, err
		}
		deliverers = append(deliverers, deliverer)
	}
	return deliverers, nil
}

func (r delivererRepository) refs(ctx context.Context, id int64, phone string) (*firestore.DocumentRef, *firestore.DocumentRef, error) {
	ref, err := r.s.doc(ctx, deliverersCollection, id)
	if err != nil {
		return nil, nil, err
	}
	phones, err := r.s.collection(ctx, delivererPhonesCollection)
	if err != nil {
		return nil, nil, err
	}
	return ref, phones.Doc(phone), nil
}

func (r delivererRepository) read(ctx context.Context, ref *firestore.DocumentRef) (domain.Deliverer, error) {
	snap, err := r.s.get(ctx, ref)
	if status.Code(err) == codes.NotFound {
		return domain.Deliverer{}, pfirestore.NotFound("find deliverer", "deliverer")
	}
	if err != nil {
		return domain.Deliverer{}, err
	}
	return decodeDeliverer(snap)
}

func encodeDeliverer(d domain.Deliverer) delivererDocument {
	return delivererDocument{
		ID:        d.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		Email:     d.Email,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func decodeDeliverer(snap *firestore.DocumentSnapshot) (domain.Deliverer, error) {
	var doc delivererDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Deliverer{}, fmt.Errorf("firestore: decode deliverer %s: %w", snap.Ref.ID, err)
	}
	return domain.Deliverer{
		ID:        doc.ID,
		Name:      doc.Name,
		Phone:     doc.Phone,
		Email:     doc.Email,
		IsActive:  doc.IsActive,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}
