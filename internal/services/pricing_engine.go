package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
)

// PricingEngine computes item and order totals from frozen item prices. Totals never consult the
// live catalog; the catalog is only used to label display lines.
type PricingEngine struct {
	catalog CatalogLookup
}

// NewPricingEngine constructs an engine. catalog may be nil when only totals are needed.
func NewPricingEngine(catalog CatalogLookup) *PricingEngine {
	return &PricingEngine{catalog: catalog}
}

// ItemTotal is priceAtOrder × quantity for catalog and custom items alike.
func ItemTotal(item OrderItem) decimal.Decimal {
	return item.PriceAtOrder.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Subtotal sums the item totals.
func Subtotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(ItemTotal(item))
	}
	return total
}

// OrderTotal is the item subtotal plus the delivery fee for delivery orders.
func OrderTotal(order Order) decimal.Decimal {
	total := Subtotal(order.Items)
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		total = total.Add(order.DeliveryFee)
	}
	return total
}

// Breakdown prices the order for display. Items whose product no longer exists are left out of
// Lines and listed in OrphanedItemIDs, while their stored price still counts towards Subtotal.
func (e *PricingEngine) Breakdown(ctx context.Context, order Order) (PricingBreakdown, error) {
	if e == nil || e.catalog == nil {
		return PricingBreakdown{}, errors.New("pricing engine: catalog lookup is not configured")
	}
	ids := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := e.catalog.GetProducts(ctx, ids)
	if err != nil {
		return PricingBreakdown{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "productId")
	}

	breakdown := PricingBreakdown{
		Subtotal: domain.RoundMoney(Subtotal(order.Items)),
		Total:    domain.RoundMoney(order.TotalPrice),
		Lines:    make([]domain.LinePricing, 0, len(order.Items)),
	}
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		breakdown.DeliveryFee = domain.RoundMoney(order.DeliveryFee)
	}
	for _, item := range order.Items {
		product, ok := products[item.ProductID]
		if !ok {
			breakdown.OrphanedItemIDs = append(breakdown.OrphanedItemIDs, item.ID)
			continue
		}
		line := domain.LinePricing{
			ItemID:      item.ID,
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   domain.RoundMoney(item.PriceAtOrder),
			Total:       domain.RoundMoney(ItemTotal(item)),
		}
		if item.SelectedOptions != nil {
			line.Custom = true
			line.ComplementNames = append([]string(nil), item.SelectedOptions.Selection.ComplementNames...)
		}
		breakdown.Lines = append(breakdown.Lines, line)
	}
	return breakdown, nil
}
