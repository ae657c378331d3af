package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	domain "github.com/acai-shop/api/internal/domain"
)

const delivererColumns = `id, name, phone, email, is_active, created_at`

type delivererRepository struct{ s *Store }

func (r delivererRepository) Insert(ctx context.Context, deliverer domain.Deliverer) (domain.Deliverer, error) {
	q, _ := r.s.q(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO deliverers (name, phone, email, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		deliverer.Name, deliverer.Phone, deliverer.Email, deliverer.IsActive, deliverer.CreatedAt,
	).Scan(&deliverer.ID)
	if err != nil {
		return domain.Deliverer{}, wrapError("insert deliverer", err)
	}
	return deliverer, nil
}

func (r delivererRepository) Update(ctx context.Context, deliverer domain.Deliverer) error {
	q, _ := r.s.q(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE deliverers SET name = $2, phone = $3, email = $4, is_active = $5 WHERE id = $1`,
		deliverer.ID, deliverer.Name, deliverer.Phone, deliverer.Email, deliverer.IsActive,
	)
	if err != nil {
		return wrapError("update deliverer", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("update deliverer")
	}
	return nil
}

func (r delivererRepository) Delete(ctx context.Context, delivererID int64) error {
	q, _ := r.s.q(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM deliverers WHERE id = $1`, delivererID)
	if err != nil {
		return wrapError("delete deliverer", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("delete deliverer")
	}
	return nil
}

func (r delivererRepository) FindByID(ctx context.Context, delivererID int64) (domain.Deliverer, error) {
	q, inTx := r.s.q(ctx)
	query := `SELECT ` + delivererColumns + ` FROM deliverers WHERE id = $1`
	if inTx {
		// Keeps the deliverer from being deactivated while an order is being assigned to them.
		query += ` FOR SHARE`
	}
	deliverer, err := scanDeliverer(q.QueryRow(ctx, query, delivererID))
	return deliverer, wrapError("find deliverer", err)
}

func (r delivererRepository) FindByPhone(ctx context.Context, phone string) (domain.Deliverer, error) {
	q, _ := r.s.q(ctx)
	deliverer, err := scanDeliverer(q.QueryRow(ctx, `SELECT `+delivererColumns+` FROM deliverers WHERE phone = $1`, phone))
	return deliverer, wrapError("find deliverer by phone", err)
}

func (r delivererRepository) List(ctx context.Context) ([]domain.Deliverer, error) {
	q, _ := r.s.q(ctx)
	rows, err := q.Query(ctx, `SELECT `+delivererColumns+` FROM deliverers ORDER BY name, id`)
	if err != nil {
		return nil, wrapError("list deliverers", err)
	}
	deliverers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Deliverer, error) {
		return scanDeliverer(row)
	})
	return deliverers, wrapError("list deliverers", err)
}

func scanDeliverer(row pgx.Row) (domain.Deliverer, error) {
	var d domain.Deliverer
	if err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Email, &d.IsActive, &d.CreatedAt); err != nil {
		return domain.Deliverer{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}
