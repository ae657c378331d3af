package services

import (
	"context"
	"errors"

	domain "github.com/acai-shop/api/internal/domain"
)

// CustomItemResolver turns a customer-chosen value and complement selection into an order line.
// Complement names are copied into the line so later catalog edits never change placed orders.
type CustomItemResolver struct {
	catalog     CatalogLookup
	placeholder map[domain.CustomKind]int64
}

// NewCustomItemResolver wires the resolver. placeholders maps each custom kind key
// (customAcai, customSorvete, customProduct) to the catalog product representing it.
func NewCustomItemResolver(catalog CatalogLookup, placeholders map[string]int64) (*CustomItemResolver, error) {
	if catalog == nil {
		return nil, errors.New("custom item resolver: catalog lookup is required")
	}
	resolved := make(map[domain.CustomKind]int64, len(placeholders))
	for key, productID := range placeholders {
		kind, err := domain.ParseCustomKind(key)
		if err != nil {
			return nil, err
		}
		if productID > 0 {
			resolved[kind] = productID
		}
	}
	return &CustomItemResolver{catalog: catalog, placeholder: resolved}, nil
}

// Resolve validates the input and builds the line item. The returned item has no id; callers
// assign one when attaching it to an order.
func (r *CustomItemResolver) Resolve(ctx context.Context, input CustomItemInput) (OrderItem, error) {
	kind, err := domain.ParseCustomKind(string(input.Kind))
	if err != nil {
		return OrderItem{}, invalidField(ErrOrderInvalidInput, "kind", "%v", err)
	}
	if !input.Value.IsPositive() {
		return OrderItem{}, invalidField(ErrOrderInvalidInput, "value", "custom item value must be greater than zero")
	}
	if err := checkMoneyScale("value", input.Value); err != nil {
		return OrderItem{}, err
	}
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return OrderItem{}, invalidField(ErrOrderInvalidInput, "quantity", "quantity must be at least 1")
	}
	productID, ok := r.placeholder[kind]
	if !ok {
		return OrderItem{}, notFound(ErrOrderNotFound, "kind", "no catalog product configured for %s", kind)
	}

	complementIDs := dedupeIDs(input.ComplementIDs)
	names, err := r.catalog.GetComplementNames(ctx, complementIDs)
	if err != nil {
		return OrderItem{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "complementIds")
	}

	snapshot := domain.SelectedOptionsSnapshot{
		Kind: kind,
		Selection: domain.CustomSelection{
			Value:               input.Value,
			SelectedComplements: complementIDs,
			ComplementNames:     names,
		},
	}
	return OrderItem{
		ProductID:       productID,
		Quantity:        quantity,
		PriceAtOrder:    input.Value,
		ComplementIDs:   append([]int64(nil), complementIDs...),
		SelectedOptions: &snapshot,
	}, nil
}

func dedupeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
