// Package receipt renders printable PDF receipts for orders.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	domain "github.com/acai-shop/api/internal/domain"
)

const (
	defaultShopName = "Açaí Shop"
	qrImageName     = "order-qr"
	qrPixels        = 256
	qrSizeMM        = 32
)

var paymentLabels = map[domain.PaymentMethod]string{
	domain.PaymentMethodCreditCard:     "Cartão de crédito",
	domain.PaymentMethodPix:            "Pix",
	domain.PaymentMethodCashOnDelivery: "Dinheiro na entrega",
}

// Renderer draws receipts on A5 pages.
type Renderer struct {
	shopName string
	clock    func() time.Time
	compress bool
}

// Option customises the renderer.
type Option func(*Renderer)

// WithShopName sets the header line.
func WithShopName(name string) Option {
	return func(r *Renderer) {
		if name = strings.TrimSpace(name); name != "" {
			r.shopName = name
		}
	}
}

// WithClock overrides the time printed on the receipt and used as the PDF creation date.
func WithClock(clock func() time.Time) Option {
	return func(r *Renderer) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRenderer constructs a renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{shopName: defaultShopName, clock: time.Now, compress: true}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// QRPayload is the text encoded in the receipt QR code. Counter staff scan it to open the order.
func QRPayload(orderID int64) string {
	return "acai-order:" + strconv.FormatInt(orderID, 10)
}

// Render produces the PDF bytes. Lines come from the pricing breakdown so orphaned items are
// omitted from the listing while the totals stay those stored on the order.
func (r *Renderer) Render(order domain.Order, breakdown domain.PricingBreakdown) ([]byte, error) {
	if order.ID <= 0 {
		return nil, errors.New("receipt: order id is required")
	}
	png, err := qrcode.Encode(QRPayload(order.ID), qrcode.Medium, qrPixels)
	if err != nil {
		return nil, fmt.Errorf("receipt: encode qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetCompression(r.compress)
	pdf.SetCreationDate(r.clock())
	pdf.SetTitle(fmt.Sprintf("Pedido #%d", order.ID), true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 8, tr(r.shopName), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Pedido #%d", order.ID)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, order.CreatedAt.Format("02/01/2006 15:04"), "", 1, "L", false, 0, "")

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	pageWidth, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(qrImageName, pageWidth-right-qrSizeMM, 10, qrSizeMM, qrSizeMM, false, opts, 0, "")
	pdf.SetY(10 + qrSizeMM + 4)

	if order.DeliveryType == domain.DeliveryTypeDelivery && !order.Shipping.IsZero() {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, "Entrega", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(shippingLine(order.Shipping)), "", "L", false)
	} else {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, tr("Retirada no balcão"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(12, 6, "Qtd", "B", 0, "L", false, 0, "")
	pdf.CellFormat(78, 6, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Total", "B", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, line := range breakdown.Lines {
		pdf.CellFormat(12, 6, strconv.Itoa(line.Quantity), "", 0, "L", false, 0, "")
		pdf.CellFormat(78, 6, tr(line.ProductName), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, Money(line.Total), "", 1, "R", false, 0, "")
		if len(line.ComplementNames) > 0 {
			pdf.SetFont("Arial", "I", 8)
			pdf.SetX(pdf.GetX() + 12)
			pdf.MultiCell(78, 4, tr(strings.Join(line.ComplementNames, ", ")), "", "L", false)
			pdf.SetFont("Arial", "", 10)
		}
	}
	pdf.Ln(2)

	summary := [][2]string{{"Subtotal", Money(breakdown.Subtotal)}}
	if order.DeliveryType == domain.DeliveryTypeDelivery {
		summary = append(summary, [2]string{"Taxa de entrega", Money(breakdown.DeliveryFee)})
	}
	totalLabel := "Total"
	if order.TotalOverridden {
		totalLabel = "Total (ajustado)"
	}
	summary = append(summary, [2]string{totalLabel, Money(order.TotalPrice)})
	for i, row := range summary {
		if i == len(summary)-1 {
			pdf.SetFont("Arial", "B", 11)
		}
		pdf.CellFormat(90, 6, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row[1], "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Arial", "", 10)
	pdf.Ln(2)
	pdf.CellFormat(0, 6, tr("Pagamento: "+PaymentLabel(order.PaymentMethod)), "", 1, "L", false, 0, "")
	if order.PrecisaTroco && order.ValorTroco != nil {
		change := order.ValorTroco.Sub(order.TotalPrice)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Troco para %s (levar %s)", Money(*order.ValorTroco), Money(change))), "", 1, "L", false, 0, "")
	}
	if notes := strings.TrimSpace(order.Notes); notes != "" {
		pdf.MultiCell(0, 5, tr("Obs.: "+notes), "", "L", false)
	}
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 6, tr("Emitido em "+r.clock().Format("02/01/2006 15:04")), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipt: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Money renders an amount the Brazilian way, e.g. "R$ 23,50".
func Money(amount decimal.Decimal) string {
	return "R$ " + strings.Replace(domain.FormatMoney(amount), ".", ",", 1)
}

// PaymentLabel returns the printed name of a payment method.
func PaymentLabel(method domain.PaymentMethod) string {
	if label, ok := paymentLabels[method]; ok {
		return label
	}
	return string(method)
}

func shippingLine(s domain.ShippingSnapshot) string {
	parts := []string{strings.TrimSpace(s.Street + ", " + s.Number)}
	if s.Complement != "" {
		parts = append(parts, s.Complement)
	}
	if s.Neighborhood != "" {
		parts = append(parts, s.Neighborhood)
	}
	line := strings.Join(parts, " - ")
	if s.Phone != "" {
		line += "\nTel.: " + s.Phone
	}
	return line
}
