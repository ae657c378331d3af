package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
)

const keysCollection = "idempotencyKeys"

// FirestoreStore keeps reservations in the idempotencyKeys collection, one document per key. It
// serves the firestore storage driver when no Redis address is configured.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

var (
	_ Store   = (*FirestoreStore)(nil)
	_ Sweeper = (*FirestoreStore)(nil)
)

// NewFirestoreStore shares the provider's client.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(keysCollection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, pendingTTL time.Duration) (Reservation, error) {
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunInTx(ctx, func(txCtx context.Context) error {
		tx, _ := pfirestore.TxFromContext(txCtx)
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc firestoreRecord
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if record := doc.toRecord(); !record.expired(now) {
				result, err = classify(record, fingerprint)
				return err
			}
		}
		owner := uuid.NewString()
		record := pendingRecord(key, fingerprint, owner, now, pendingTTL)
		if err := tx.Set(ref, fromRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Owner: owner, Record: record}
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, owner string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunInTx(ctx, func(txCtx context.Context) error {
		tx, _ := pfirestore.TxFromContext(txCtx)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotOwner
			}
			return err
		}
		var doc firestoreRecord
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Owner != owner {
			return ErrNotOwner
		}
		return tx.Set(ref, fromRecord(completeRecord(doc.toRecord(), resp, now, ttl)))
	})
	if errors.Is(err, ErrNotOwner) {
		return ErrNotOwner
	}
	return err
}

// Release deletes the pending reservation when it is still owned by owner.
func (s *FirestoreStore) Release(ctx context.Context, key, owner string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunInTx(ctx, func(txCtx context.Context) error {
		tx, _ := pfirestore.TxFromContext(txCtx)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var doc firestoreRecord
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Owner != owner || doc.Status != string(StatusPending) {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired removes expired records in one batch of at most limit documents.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(keysCollection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Owner           string              `firestore:"owner"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Owner:           r.Owner,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Owner:           r.Owner,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
