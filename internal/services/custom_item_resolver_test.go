package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/acai-shop/api/internal/domain"
)

func newTestResolver(t *testing.T) *CustomItemResolver {
	t.Helper()
	catalog := &stubCatalog{complements: map[int64]string{3: "Leite em pó", 7: "Granola", 9: "Morango"}}
	resolver, err := NewCustomItemResolver(catalog, map[string]int64{
		"customAcai":    100,
		"customSorvete": 101,
	})
	if err != nil {
		t.Fatalf("NewCustomItemResolver: %v", err)
	}
	return resolver
}

func TestCustomItemResolverBuildsSnapshot(t *testing.T) {
	resolver := newTestResolver(t)

	item, err := resolver.Resolve(context.Background(), CustomItemInput{
		Kind:          domain.CustomKindAcai,
		Value:         money("25.00"),
		ComplementIDs: []int64{7, 3, 7},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if item.ProductID != 100 || item.Quantity != 1 || !item.PriceAtOrder.Equal(money("25")) {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.SelectedOptions == nil || item.SelectedOptions.Kind != domain.CustomKindAcai {
		t.Fatalf("expected customAcai snapshot, got %+v", item.SelectedOptions)
	}
	selection := item.SelectedOptions.Selection
	if len(selection.SelectedComplements) != 2 || selection.SelectedComplements[0] != 7 || selection.SelectedComplements[1] != 3 {
		t.Fatalf("expected deduplicated ids in input order, got %v", selection.SelectedComplements)
	}
	if len(selection.ComplementNames) != 2 || selection.ComplementNames[0] != "Granola" || selection.ComplementNames[1] != "Leite em pó" {
		t.Fatalf("expected names aligned with ids, got %v", selection.ComplementNames)
	}
	if !selection.Value.Equal(item.PriceAtOrder) {
		t.Fatalf("expected snapshot value to match price, got %s", selection.Value)
	}

	// The item keeps its own copy of the ids.
	item.ComplementIDs[0] = 99
	if selection.SelectedComplements[0] != 7 {
		t.Fatalf("expected snapshot ids to be independent of item ids")
	}
}

func TestCustomItemResolverQuantity(t *testing.T) {
	resolver := newTestResolver(t)
	item, err := resolver.Resolve(context.Background(), CustomItemInput{Kind: domain.CustomKindSorvete, Value: money("12.5"), Quantity: 2})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if item.ProductID != 101 || item.Quantity != 2 {
		t.Fatalf("expected sorvete placeholder with quantity 2, got %+v", item)
	}
	if got := ItemTotal(item); !got.Equal(money("25")) {
		t.Fatalf("expected item total 25, got %s", got)
	}
	if len(item.SelectedOptions.Selection.ComplementNames) != 0 {
		t.Fatalf("expected no complement names, got %v", item.SelectedOptions.Selection.ComplementNames)
	}
}

func TestCustomItemResolverRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		input CustomItemInput
		kind  error
		field string
	}{
		{name: "unknown kind", input: CustomItemInput{Kind: "customPizza", Value: money("10")}, kind: ErrOrderInvalidInput, field: "kind"},
		{name: "zero value", input: CustomItemInput{Kind: domain.CustomKindAcai, Value: money("0")}, kind: ErrOrderInvalidInput, field: "value"},
		{name: "negative value", input: CustomItemInput{Kind: domain.CustomKindAcai, Value: money("-5")}, kind: ErrOrderInvalidInput, field: "value"},
		{name: "sub-cent value", input: CustomItemInput{Kind: domain.CustomKindAcai, Value: money("10.505")}, kind: ErrOrderInvalidInput, field: "value"},
		{name: "negative quantity", input: CustomItemInput{Kind: domain.CustomKindAcai, Value: money("5"), Quantity: -1}, kind: ErrOrderInvalidInput, field: "quantity"},
		{name: "no placeholder", input: CustomItemInput{Kind: domain.CustomKindProduct, Value: money("5")}, kind: ErrOrderNotFound, field: "kind"},
		{name: "unknown complement", input: CustomItemInput{Kind: domain.CustomKindAcai, Value: money("5"), ComplementIDs: []int64{3, 404}}, kind: ErrOrderNotFound, field: "complementIds"},
	}
	resolver := newTestResolver(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), tc.input)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var svcErr *ServiceError
			if !errors.As(err, &svcErr) || svcErr.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestNewCustomItemResolverValidatesKeys(t *testing.T) {
	if _, err := NewCustomItemResolver(nil, nil); err == nil {
		t.Fatalf("expected error without catalog")
	}
	if _, err := NewCustomItemResolver(&stubCatalog{}, map[string]int64{"customPizza": 1}); err == nil {
		t.Fatalf("expected error for unknown kind key")
	}
}
