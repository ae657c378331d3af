package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/repositories"
)

const sequencesCollection = "sequences"

type sequenceDocument struct {
	Last      int64     `firestore:"last"`
	Limit     *int64    `firestore:"limit,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// SequenceRepository allocates numeric ids for orders and deliverers. Next joins a transaction
// already present in ctx, so an id is only consumed when the surrounding insert commits.
type SequenceRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.SequenceRepository = (*SequenceRepository)(nil)

func newSequenceRepository(provider *pfirestore.Provider, now func() time.Time) *SequenceRepository {
	return &SequenceRepository{provider: provider, now: now}
}

// Next reads and writes the sequence document, so inside a shared transaction it must run before
// any other write.
func (r *SequenceRepository) Next(ctx context.Context, sequence string) (int64, error) {
	name := strings.TrimSpace(sequence)
	if name == "" {
		return 0, &repositories.SequenceError{Sequence: sequence, Failure: repositories.SequenceInvalid, Detail: "name is required"}
	}

	var next int64
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		tx, _ := pfirestore.TxFromContext(ctx)
		ref, err := r.ref(ctx, name)
		if err != nil {
			return err
		}

		var doc sequenceDocument
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return err
			}
		case codes.NotFound:
		default:
			return err
		}

		if doc.Limit != nil && doc.Last >= *doc.Limit {
			return &repositories.SequenceError{Sequence: name, Failure: repositories.SequenceExhausted}
		}
		doc.Last++
		doc.UpdatedAt = r.now().UTC()
		next = doc.Last
		return tx.Set(ref, doc)
	})
	if err != nil {
		var seqErr *repositories.SequenceError
		if errors.As(err, &seqErr) {
			return 0, seqErr
		}
		return 0, pfirestore.WrapError("sequences.next", err)
	}
	return next, nil
}

// Configure seeds the last issued id or caps the sequence.
func (r *SequenceRepository) Configure(ctx context.Context, sequence string, cfg repositories.SequenceConfig) error {
	name := strings.TrimSpace(sequence)
	if name == "" {
		return &repositories.SequenceError{Sequence: sequence, Failure: repositories.SequenceInvalid, Detail: "name is required"}
	}
	if cfg.Last != nil && *cfg.Last < 0 {
		return &repositories.SequenceError{Sequence: name, Failure: repositories.SequenceInvalid, Detail: "last must not be negative"}
	}

	payload := map[string]any{"updatedAt": r.now().UTC()}
	if cfg.Last != nil {
		payload["last"] = *cfg.Last
	}
	if cfg.Limit != nil {
		payload["limit"] = *cfg.Limit
	}
	ref, err := r.ref(ctx, name)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("sequences.configure", err)
	}
	return nil
}

func (r *SequenceRepository) ref(ctx context.Context, name string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(sequencesCollection).Doc(name), nil
}
