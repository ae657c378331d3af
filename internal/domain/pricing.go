package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fraction digits used when presenting monetary values.
const MoneyPlaces = 2

// PricingBreakdown captures the aggregated monetary results of pricing an order.
type PricingBreakdown struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
	Lines       []LinePricing
	// OrphanedItemIDs lists items whose product no longer exists in the catalog. Their stored
	// price is part of Subtotal but they have no display line.
	OrphanedItemIDs []int64
}

// LinePricing is the display view of one order item.
type LinePricing struct {
	ItemID          int64
	ProductID       int64
	ProductName     string
	Quantity        int
	UnitPrice       decimal.Decimal
	Total           decimal.Decimal
	Custom          bool
	ComplementNames []string
}

// RoundMoney rounds an amount to MoneyPlaces for display.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}

// FitsMoneyPlaces reports whether amount carries no digits beyond MoneyPlaces, so storing it and
// presenting it give the same value. Trailing zeros ("1.500") are fine.
func FitsMoneyPlaces(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MoneyPlaces))
}

// FormatMoney renders an amount with exactly MoneyPlaces fraction digits.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyPlaces)
}
