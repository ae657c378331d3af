package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/acai-shop/api/internal/domain"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/platform/pagination"
	"github.com/acai-shop/api/internal/repositories"
)

type orderDocument struct {
	ID              int64               `firestore:"id"`
	UserID          int64               `firestore:"userId"`
	Status          string              `firestore:"status"`
	DeliveryType    string              `firestore:"deliveryType"`
	TotalPrice      string              `firestore:"totalPrice"`
	DeliveryFee     string              `firestore:"deliveryFee"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	Notes           string              `firestore:"notes"`
	PrecisaTroco    bool                `firestore:"precisaTroco"`
	ValorTroco      *string             `firestore:"valorTroco"`
	Shipping        shippingDocument    `firestore:"shipping"`
	DelivererID     *int64              `firestore:"delivererId"`
	Items           []orderItemDocument `firestore:"items"`
	TotalOverridden bool                `firestore:"totalOverridden"`
	LastItemID      int64               `firestore:"lastItemId"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type shippingDocument struct {
	Street       string `firestore:"street"`
	Number       string `firestore:"number"`
	Complement   string `firestore:"complement"`
	Neighborhood string `firestore:"neighborhood"`
	Phone        string `firestore:"phone"`
}

type orderItemDocument struct {
	ID            int64   `firestore:"id"`
	ProductID     int64   `firestore:"productId"`
	Quantity      int64   `firestore:"quantity"`
	PriceAtOrder  string  `firestore:"priceAtOrder"`
	ComplementIDs []int64 `firestore:"complementIds"`
	// SelectedOptions holds the JSON encoded custom item snapshot, empty for catalog items.
	SelectedOptions string `firestore:"selectedOptions"`
}

type statusChangeDocument struct {
	From        string    `firestore:"from"`
	To          string    `firestore:"to"`
	ActorID     string    `firestore:"actorId"`
	DelivererID *int64    `firestore:"delivererId"`
	OccurredAt  time.Time `firestore:"occurredAt"`
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	stored := order.Clone()
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		id, err := r.s.sequences.Next(ctx, repositories.SequenceOrders)
		if err != nil {
			return err
		}
		stored.ID = id
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = r.s.now().UTC()
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
		stored.AssignItemIDs()
		for i := range stored.Items {
			stored.Items[i].OrderID = id
		}
		doc, err := encodeOrder(stored)
		if err != nil {
			return err
		}
		ref, err := r.s.doc(ctx, ordersCollection, id)
		if err != nil {
			return err
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		if state := stateFromContext(ctx); state != nil {
			state.orderStatus[id] = stored.Status
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("insert order", err)
	}
	return stored, nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	doc, err := encodeOrder(order)
	if err != nil {
		return err
	}
	err = r.s.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := r.s.doc(ctx, ordersCollection, order.ID)
		if err != nil {
			return err
		}
		state := stateFromContext(ctx)
		current, known := state.orderStatus[order.ID]
		if !known {
			snap, err := r.s.get(ctx, ref)
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("update order", "order")
			}
			if err != nil {
				return err
			}
			raw, err := snap.DataAt("status")
			if err != nil {
				return err
			}
			value, _ := raw.(string)
			current = domain.OrderStatus(value)
		}
		if current != expectedStatus {
			return pfirestore.Conflict("update order", "order status changed")
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		state.orderStatus[order.ID] = order.Status
		return nil
	})
	return pfirestore.WrapError("update order", err)
}

func (r orderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	ref, err := r.s.doc(ctx, ordersCollection, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := r.s.get(ctx, ref)
	if status.Code(err) == codes.NotFound {
		return domain.Order{}, pfirestore.NotFound("find order", "order")
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("find order", err)
	}
	order, err := decodeOrder(snap)
	if err != nil {
		return domain.Order{}, err
	}
	if state := stateFromContext(ctx); state != nil {
		state.orderStatus[order.ID] = order.Status
	}
	return order, nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("firestore: list orders: %w", err)
	}
	coll, err := r.s.collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if filter.UserID != nil {
		query = query.Where("userId", "==", *filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status", "in", statusValues(filter.Statuses))
	}
	if filter.DeliveryType != "" {
		query = query.Where("deliveryType", "==", string(filter.DeliveryType))
	}
	if from := filter.DateRange.From; from != nil {
		query = query.Where("createdAt", ">=", from.UTC())
	}
	if to := filter.DateRange.To; to != nil {
		query = query.Where("createdAt", "<=", to.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	size := filter.Pagination.PageSize
	if size > 0 {
		query = query.Limit(size + 1)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()
	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("list orders", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if size > 0 && len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		if page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	return page, nil
}

func (r orderRepository) CountByStatus(ctx context.Context, statuses []domain.OrderStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	coll, err := r.s.collection(ctx, ordersCollection)
	if err != nil {
		return 0, err
	}
	snaps, err := coll.Where("status", "in", statusValues(statuses)).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("count orders", err)
	}
	return len(snaps), nil
}

func (r orderRepository) DeliveredCounts(ctx context.Context) (map[int64]int, error) {
	coll, err := r.s.collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.Where("status", "==", string(domain.OrderStatusDelivered)).Select("delivererId").Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("delivered counts", err)
	}
	counts := make(map[int64]int)
	for _, snap := range snaps {
		if id, ok := snap.Data()["delivererId"].(int64); ok {
			counts[id]++
		}
	}
	return counts, nil
}

func (r orderRepository) AppendStatusChange(ctx context.Context, change domain.StatusChange) error {
	err := r.s.RunInTx(ctx, func(ctx context.Context) error {
		ref, err := r.s.doc(ctx, ordersCollection, change.OrderID)
		if err != nil {
			return err
		}
		if _, known := stateFromContext(ctx).orderStatus[change.OrderID]; !known {
			if _, err := r.s.get(ctx, ref); status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("append status change", "order")
			} else if err != nil {
				return err
			}
		}
		tx, _ := pfirestore.TxFromContext(ctx)
		return tx.Create(ref.Collection(statusHistoryCollection).NewDoc(), statusChangeDocument{
			From:        string(change.From),
			To:          string(change.To),
			ActorID:     change.ActorID,
			DelivererID: change.DelivererID,
			OccurredAt:  change.OccurredAt.UTC(),
		})
	})
	return pfirestore.WrapError("append status change", err)
}

func (r orderRepository) ListStatusChanges(ctx context.Context, orderID int64) ([]domain.StatusChange, error) {
	ref, err := r.s.doc(ctx, ordersCollection, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return nil, pfirestore.NotFound("list status changes", "order")
	} else if err != nil {
		return nil, pfirestore.WrapError("list status changes", err)
	}
	snaps, err := ref.Collection(statusHistoryCollection).OrderBy("occurredAt", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("list status changes", err)
	}
	changes := make([]domain.StatusChange, 0, len(snaps))
	for _, snap := range snaps {
		var doc statusChangeDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode status change: %w", err)
		}
		changes = append(changes, domain.StatusChange{
			OrderID:     orderID,
			From:        domain.OrderStatus(doc.From),
			To:          domain.OrderStatus(doc.To),
			ActorID:     doc.ActorID,
			DelivererID: doc.DelivererID,
			OccurredAt:  doc.OccurredAt.UTC(),
		})
	}
	return changes, nil
}

func encodeOrder(order domain.Order) (orderDocument, error) {
	doc := orderDocument{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		DeliveryType:  string(order.DeliveryType),
		TotalPrice:    order.TotalPrice.String(),
		DeliveryFee:   order.DeliveryFee.String(),
		PaymentMethod: string(order.PaymentMethod),
		Notes:         order.Notes,
		PrecisaTroco:  order.PrecisaTroco,
		Shipping: shippingDocument{
			Street:       order.Shipping.Street,
			Number:       order.Shipping.Number,
			Complement:   order.Shipping.Complement,
			Neighborhood: order.Shipping.Neighborhood,
			Phone:        order.Shipping.Phone,
		},
		DelivererID:     order.DelivererID,
		TotalOverridden: order.TotalOverridden,
		LastItemID:      order.LastItemID,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		Items:           make([]orderItemDocument, 0, len(order.Items)),
	}
	if order.ValorTroco != nil {
		value := order.ValorTroco.String()
		doc.ValorTroco = &value
	}
	for _, item := range order.Items {
		itemDoc := orderItemDocument{
			ID:            item.ID,
			ProductID:     item.ProductID,
			Quantity:      int64(item.Quantity),
			PriceAtOrder:  item.PriceAtOrder.String(),
			ComplementIDs: item.ComplementIDs,
		}
		if item.SelectedOptions != nil {
			raw, err := json.Marshal(item.SelectedOptions)
			if err != nil {
				return orderDocument{}, fmt.Errorf("firestore: encode selected options: %w", err)
			}
			itemDoc.SelectedOptions = string(raw)
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	return doc, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore: decode order %s: %w", snap.Ref.ID, err)
	}
	total, err := decimal.NewFromString(doc.TotalPrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore: decode order total: %w", err)
	}
	fee, err := decimal.NewFromString(doc.DeliveryFee)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore: decode delivery fee: %w", err)
	}
	order := domain.Order{
		ID:            doc.ID,
		UserID:        doc.UserID,
		Status:        domain.OrderStatus(doc.Status),
		DeliveryType:  domain.DeliveryType(doc.DeliveryType),
		TotalPrice:    total,
		DeliveryFee:   fee,
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Notes:         doc.Notes,
		PrecisaTroco:  doc.PrecisaTroco,
		Shipping: domain.ShippingSnapshot{
			Street:       doc.Shipping.Street,
			Number:       doc.Shipping.Number,
			Complement:   doc.Shipping.Complement,
			Neighborhood: doc.Shipping.Neighborhood,
			Phone:        doc.Shipping.Phone,
		},
		DelivererID:     doc.DelivererID,
		TotalOverridden: doc.TotalOverridden,
		LastItemID:      doc.LastItemID,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	if doc.ValorTroco != nil {
		change, err := decimal.NewFromString(*doc.ValorTroco)
		if err != nil {
			return domain.Order{}, fmt.Errorf("firestore: decode valor troco: %w", err)
		}
		order.ValorTroco = &change
	}
	for _, itemDoc := range doc.Items {
		price, err := decimal.NewFromString(itemDoc.PriceAtOrder)
		if err != nil {
			return domain.Order{}, fmt.Errorf("firestore: decode item price: %w", err)
		}
		item := domain.OrderItem{
			ID:            itemDoc.ID,
			OrderID:       order.ID,
			ProductID:     itemDoc.ProductID,
			Quantity:      int(itemDoc.Quantity),
			PriceAtOrder:  price,
			ComplementIDs: itemDoc.ComplementIDs,
		}
		if itemDoc.SelectedOptions != "" {
			var snapshot domain.SelectedOptionsSnapshot
			if err := json.Unmarshal([]byte(itemDoc.SelectedOptions), &snapshot); err != nil {
				return domain.Order{}, fmt.Errorf("firestore: decode selected options: %w", err)
			}
			item.SelectedOptions = &snapshot
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func statusValues(statuses []domain.OrderStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return values
}
