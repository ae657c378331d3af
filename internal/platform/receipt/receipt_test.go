package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
)

var issuedAt = time.Date(2026, time.March, 14, 20, 30, 0, 0, time.UTC)

func deliveryOrder() (domain.Order, domain.PricingBreakdown) {
	troco := decimal.RequireFromString("50")
	order := domain.Order{
		ID:            42,
		UserID:        1,
		Status:        domain.OrderStatusOnTheWay,
		DeliveryType:  domain.DeliveryTypeDelivery,
		TotalPrice:    decimal.RequireFromString("38"),
		DeliveryFee:   decimal.RequireFromString("3"),
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
		PrecisaTroco:  true,
		ValorTroco:    &troco,
		Notes:         "Sem granola",
		Shipping: domain.ShippingSnapshot{
			Street:       "Rua das Flores",
			Number:       "120",
			Neighborhood: "Centro",
			Phone:        "11999990000",
		},
		CreatedAt: issuedAt.Add(-time.Hour),
	}
	breakdown := domain.PricingBreakdown{
		Subtotal:    decimal.RequireFromString("35"),
		DeliveryFee: decimal.RequireFromString("3"),
		Total:       decimal.RequireFromString("38"),
		Lines: []domain.LinePricing{
			{ItemID: 1, ProductID: 1, ProductName: "Acai 500ml", Quantity: 1, UnitPrice: decimal.RequireFromString("10"), Total: decimal.RequireFromString("10")},
			{ItemID: 2, ProductID: 100, ProductName: "Acai personalizado", Quantity: 1, UnitPrice: decimal.RequireFromString("25"), Total: decimal.RequireFromString("25"), Custom: true, ComplementNames: []string{"Granola", "Leite em po"}},
		},
	}
	return order, breakdown
}

func TestRenderProducesPDF(t *testing.T) {
	renderer := NewRenderer(WithClock(func() time.Time { return issuedAt }))
	renderer.compress = false

	order, breakdown := deliveryOrder()
	data, err := renderer.Render(order, breakdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("expected PDF header, got %q", data[:8])
	}
	for _, want := range []string{"Pedido #42", "Acai personalizado", "Granola, Leite em po", "R$ 38,00", "Troco para R$ 50,00", "levar R$ 12,00", "Rua das Flores, 120"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("expected %q in rendered receipt", want)
		}
	}
}

func TestRenderPickupOmitsDeliveryFee(t *testing.T) {
	renderer := NewRenderer(WithClock(func() time.Time { return issuedAt }), WithShopName("Loja Teste"))
	renderer.compress = false

	order, breakdown := deliveryOrder()
	order.DeliveryType = domain.DeliveryTypePickup
	order.Shipping = domain.ShippingSnapshot{}
	order.PaymentMethod = domain.PaymentMethodPix
	order.PrecisaTroco = false
	order.ValorTroco = nil
	order.TotalOverridden = true

	data, err := renderer.Render(order, breakdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if bytes.Contains(data, []byte("Taxa de entrega")) {
		t.Fatalf("did not expect a delivery fee row on a pickup receipt")
	}
	for _, want := range []string{"Loja Teste", "ajustado", "Pagamento: Pix"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("expected %q in rendered receipt", want)
		}
	}
}

func TestRenderRequiresOrderID(t *testing.T) {
	if _, err := NewRenderer().Render(domain.Order{}, domain.PricingBreakdown{}); err == nil {
		t.Fatalf("expected error for order without id")
	}
}

func TestMoneyAndLabels(t *testing.T) {
	if got := Money(decimal.RequireFromString("1234.5")); got != "R$ 1234,50" {
		t.Fatalf("expected R$ 1234,50, got %s", got)
	}
	if got := PaymentLabel(domain.PaymentMethodCreditCard); got != "Cartão de crédito" {
		t.Fatalf("unexpected label %s", got)
	}
	if got := PaymentLabel("BOLETO"); got != "BOLETO" {
		t.Fatalf("expected unknown methods to print raw, got %s", got)
	}
	if got := QRPayload(42); got != "acai-order:42" {
		t.Fatalf("unexpected qr payload %s", got)
	}
}
