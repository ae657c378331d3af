package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/platform/pagination"
	"github.com/acai-shop/api/internal/repositories"
)

const orderColumns = `id, user_id, status, delivery_type, total_price, delivery_fee, total_overridden,
	payment_method, notes, precisa_troco, valor_troco, shipping_street, shipping_number,
	shipping_complement, shipping_neighborhood, shipping_phone, deliverer_id, created_at, updated_at,
	last_item_id`

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	q, _ := r.s.q(ctx)
	stored := order.Clone()
	stored.AssignItemIDs()

	err := q.QueryRow(ctx, `
		INSERT INTO orders (user_id, status, delivery_type, total_price, delivery_fee, total_overridden,
			payment_method, notes, precisa_troco, valor_troco, shipping_street, shipping_number,
			shipping_complement, shipping_neighborhood, shipping_phone, deliverer_id, created_at, updated_at,
			last_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`,
		stored.UserID, string(stored.Status), string(stored.DeliveryType), stored.TotalPrice, stored.DeliveryFee,
		stored.TotalOverridden, string(stored.PaymentMethod), stored.Notes, stored.PrecisaTroco,
		nullDecimal(stored.ValorTroco), stored.Shipping.Street, stored.Shipping.Number,
		stored.Shipping.Complement, stored.Shipping.Neighborhood, stored.Shipping.Phone,
		stored.DelivererID, stored.CreatedAt, stored.UpdatedAt, stored.LastItemID,
	).Scan(&stored.ID)
	if err != nil {
		return domain.Order{}, wrapError("insert order", err)
	}

	for i := range stored.Items {
		stored.Items[i].OrderID = stored.ID
	}
	if err := insertItems(ctx, q, stored.Items); err != nil {
		return domain.Order{}, err
	}
	return stored, nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	q, _ := r.s.q(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE orders SET status = $3, total_price = $4, delivery_fee = $5, total_overridden = $6,
			notes = $7, deliverer_id = $8, updated_at = $9, last_item_id = GREATEST(last_item_id, $10)
		WHERE id = $1 AND status = $2`,
		order.ID, string(expectedStatus), string(order.Status), order.TotalPrice, order.DeliveryFee,
		order.TotalOverridden, order.Notes, order.DelivererID, order.UpdatedAt, order.LastItemID,
	)
	if err != nil {
		return wrapError("update order", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return wrapError("update order", err)
		}
		if !exists {
			return notFound("update order")
		}
		return conflict("update order", "order status changed")
	}

	if _, err := q.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return wrapError("replace order items", err)
	}
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.OrderID = order.ID
		items[i] = item
	}
	return insertItems(ctx, q, items)
}

func insertItems(ctx context.Context, q querier, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		options, err := encodeOptions(item.SelectedOptions)
		if err != nil {
			return err
		}
		complements := item.ComplementIDs
		if complements == nil {
			complements = []int64{}
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, item_id, product_id, quantity, price_at_order, complement_ids, selected_options)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.OrderID, item.ID, item.ProductID, item.Quantity, item.PriceAtOrder, complements, options,
		)
	}
	results := q.SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return wrapError("insert order items", err)
		}
	}
	return wrapError("insert order items", results.Close())
}

// FindByID loads the order and its items. Inside a transaction the row is locked until commit.
func (r orderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	q, inTx := r.s.q(ctx)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, wrapError("find order", err)
	}
	items, err := loadItems(ctx, q, []int64{orderID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[orderID]
	return order, nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("postgres: list orders: %w", err)
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != nil {
		where = append(where, "user_id = "+arg(*filter.UserID))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(filter.Statuses))+")")
	}
	if filter.DeliveryType != "" {
		where = append(where, "delivery_type = "+arg(string(filter.DeliveryType)))
	}
	if from := filter.DateRange.From; from != nil {
		where = append(where, "created_at >= "+arg(*from))
	}
	if to := filter.DateRange.To; to != nil {
		where = append(where, "created_at <= "+arg(*to))
	}
	if !cursor.IsZero() {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	size := filter.Pagination.PageSize
	if size > 0 {
		query += ` LIMIT ` + arg(size+1)
	}

	q, _ := r.s.q(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("list orders", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("list orders", err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if size > 0 && len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		if page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	ids := make([]int64, len(page.Items))
	for i, order := range page.Items {
		ids[i] = order.ID
	}
	items, err := loadItems(ctx, q, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range page.Items {
		page.Items[i].Items = items[page.Items[i].ID]
	}
	return page, nil
}

func (r orderRepository) CountByStatus(ctx context.Context, statuses []domain.OrderStatus) (int, error) {
	q, _ := r.s.q(ctx)
	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM orders WHERE status = ANY($1)`, statusStrings(statuses)).Scan(&count); err != nil {
		return 0, wrapError("count orders", err)
	}
	return count, nil
}

func (r orderRepository) DeliveredCounts(ctx context.Context) (map[int64]int, error) {
	q, _ := r.s.q(ctx)
	rows, err := q.Query(ctx, `
		SELECT deliverer_id, count(*) FROM orders
		WHERE status = $1 AND deliverer_id IS NOT NULL
		GROUP BY deliverer_id`, string(domain.OrderStatusDelivered))
	if err != nil {
		return nil, wrapError("count deliveries", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			id    int64
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, wrapError("count deliveries", err)
		}
		counts[id] = count
	}
	return counts, wrapError("count deliveries", rows.Err())
}

func (r orderRepository) AppendStatusChange(ctx context.Context, change domain.StatusChange) error {
	q, _ := r.s.q(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, deliverer_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		change.OrderID, string(change.From), string(change.To), change.ActorID, change.DelivererID, change.OccurredAt,
	)
	return wrapError("append status change", err)
}

func (r orderRepository) ListStatusChanges(ctx context.Context, orderID int64) ([]domain.StatusChange, error) {
	q, _ := r.s.q(ctx)
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, wrapError("list status changes", err)
	}
	if !exists {
		return nil, notFound("list status changes")
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, from_status, to_status, actor_id, deliverer_id, occurred_at
		FROM order_status_history WHERE order_id = $1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, wrapError("list status changes", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StatusChange, error) {
		var (
			change   domain.StatusChange
			from, to string
		)
		err := row.Scan(&change.OrderID, &from, &to, &change.ActorID, &change.DelivererID, &change.OccurredAt)
		change.From = domain.OrderStatus(from)
		change.To = domain.OrderStatus(to)
		return change, err
	})
	return changes, wrapError("list status changes", err)
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	out := make(map[int64][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, item_id, product_id, quantity, price_at_order, complement_ids, selected_options
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, item_id`, orderIDs)
	if err != nil {
		return nil, wrapError("load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item    domain.OrderItem
			options []byte
		)
		if err := rows.Scan(&item.OrderID, &item.ID, &item.ProductID, &item.Quantity, &item.PriceAtOrder, &item.ComplementIDs, &options); err != nil {
			return nil, wrapError("load order items", err)
		}
		if len(options) > 0 && string(options) != "null" {
			var snapshot domain.SelectedOptionsSnapshot
			if err := json.Unmarshal(options, &snapshot); err != nil {
				return nil, fmt.Errorf("postgres: decode selected options for item %d: %w", item.ID, err)
			}
			item.SelectedOptions = &snapshot
		}
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("load order items", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order                         domain.Order
		status, deliveryType, payment string
		valorTroco                    decimal.NullDecimal
	)
	err := row.Scan(
		&order.ID, &order.UserID, &status, &deliveryType, &order.TotalPrice, &order.DeliveryFee,
		&order.TotalOverridden, &payment, &order.Notes, &order.PrecisaTroco, &valorTroco,
		&order.Shipping.Street, &order.Shipping.Number, &order.Shipping.Complement,
		&order.Shipping.Neighborhood, &order.Shipping.Phone, &order.DelivererID,
		&order.CreatedAt, &order.UpdatedAt, &order.LastItemID,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.DeliveryType = domain.DeliveryType(deliveryType)
	order.PaymentMethod = domain.PaymentMethod(payment)
	if valorTroco.Valid {
		v := valorTroco.Decimal
		order.ValorTroco = &v
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func encodeOptions(snapshot *domain.SelectedOptionsSnapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode selected options: %w", err)
	}
	return data, nil
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *value, Valid: true}
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
