package postgres

import (
	"context"

	domain "github.com/acai-shop/api/internal/domain"
)

type catalogRepository struct{ s *Store }

func (r catalogRepository) FindProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	q, _ := r.s.q(ctx)
	rows, err := q.Query(ctx, `SELECT id, name, price, is_active FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, wrapError("find products", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.IsActive); err != nil {
			return nil, wrapError("find products", err)
		}
		out[p.ID] = p
	}
	return out, wrapError("find products", rows.Err())
}

func (r catalogRepository) FindComplements(ctx context.Context, complementIDs []int64) (map[int64]domain.Complement, error) {
	out := make(map[int64]domain.Complement, len(complementIDs))
	if len(complementIDs) == 0 {
		return out, nil
	}
	q, _ := r.s.q(ctx)
	rows, err := q.Query(ctx, `SELECT id, name, is_active FROM complements WHERE id = ANY($1)`, complementIDs)
	if err != nil {
		return nil, wrapError("find complements", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Complement
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive); err != nil {
			return nil, wrapError("find complements", err)
		}
		out[c.ID] = c
	}
	return out, wrapError("find complements", rows.Err())
}

type userRepository struct{ s *Store }

func (r userRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	q, _ := r.s.q(ctx)
	var u domain.User
	err := q.QueryRow(ctx, `SELECT id, name, phone, role FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Phone, &u.Role)
	if err != nil {
		return domain.User{}, wrapError("find user", err)
	}
	return u, nil
}

type addressRepository struct{ s *Store }

func (r addressRepository) FindByID(ctx context.Context, userID, addressID int64) (domain.Address, error) {
	q, _ := r.s.q(ctx)
	var a domain.Address
	err := q.QueryRow(ctx, `
		SELECT id, user_id, street, number, complement, neighborhood, phone
		FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID).
		Scan(&a.ID, &a.UserID, &a.Street, &a.Number, &a.Complement, &a.Neighborhood, &a.Phone)
	if err != nil {
		return domain.Address{}, wrapError("find address", err)
	}
	return a, nil
}
