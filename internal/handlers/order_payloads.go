package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/services"
)

// Request bodies. Money fields accept JSON numbers or decimal strings.

type createOrderRequest struct {
	UserID        int64              `json:"userId"`
	AddressID     *int64             `json:"addressId"`
	DeliveryType  string             `json:"deliveryType"`
	PaymentMethod string             `json:"paymentMethod"`
	DeliveryFee   *decimal.Decimal   `json:"deliveryFee"`
	Notes         string             `json:"notes"`
	PrecisaTroco  bool               `json:"precisaTroco"`
	ValorTroco    *decimal.Decimal   `json:"valorTroco"`
	Items         []orderLineRequest `json:"items"`
}

type orderLineRequest struct {
	ProductID       int64                             `json:"productId"`
	Quantity        int                               `json:"quantity"`
	Price           *decimal.Decimal                  `json:"price"`
	ComplementIDs   []int64                           `json:"complementIds"`
	SelectedOptions map[string]customSelectionRequest `json:"selectedOptions"`
}

// customSelectionRequest mirrors the persisted snapshot shape: {"customAcai": {"value": 25, ...}}.
type customSelectionRequest struct {
	Value               decimal.Decimal `json:"value"`
	SelectedComplements []int64         `json:"selectedComplements"`
}

type advanceStatusRequest struct {
	Status         string `json:"status"`
	DelivererID    *int64 `json:"delivererId"`
	ExpectedStatus string `json:"expectedStatus"`
	Confirm        bool   `json:"confirm"`
}

type cancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expectedStatus"`
}

type overrideTotalRequest struct {
	TotalPrice     *decimal.Decimal `json:"totalPrice"`
	ExpectedStatus string           `json:"expectedStatus"`
	Reason         string           `json:"reason"`
}

type addItemRequest struct {
	orderLineRequest
	ExpectedStatus string `json:"expectedStatus"`
}

func (req orderLineRequest) toInput(allowPrice bool) (services.OrderLineInput, error) {
	line := services.OrderLineInput{
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		ComplementIDs: req.ComplementIDs,
	}
	if req.Price != nil {
		if !allowPrice {
			return services.OrderLineInput{}, errors.New("price cannot be set by customers")
		}
		price := *req.Price
		line.Price = &price
	}
	if len(req.SelectedOptions) == 0 {
		return line, nil
	}
	if len(req.SelectedOptions) != 1 {
		return services.OrderLineInput{}, errors.New("selectedOptions must contain exactly one custom kind")
	}
	for key, selection := range req.SelectedOptions {
		kind, err := domain.ParseCustomKind(key)
		if err != nil {
			return services.OrderLineInput{}, err
		}
		line.Custom = &services.CustomItemInput{
			Kind:          kind,
			Value:         selection.Value,
			ComplementIDs: selection.SelectedComplements,
			Quantity:      req.Quantity,
		}
	}
	return line, nil
}

func (req createOrderRequest) toCommand(allowPrice bool) (services.CreateOrderCommand, string, error) {
	cmd := services.CreateOrderCommand{
		UserID:             req.UserID,
		AddressID:          req.AddressID,
		Notes:              req.Notes,
		PrecisaTroco:       req.PrecisaTroco,
		ValorTroco:         req.ValorTroco,
		AllowPriceOverride: allowPrice,
	}
	deliveryType, err := domain.ParseDeliveryType(req.DeliveryType)
	if err != nil {
		return cmd, "deliveryType", err
	}
	cmd.DeliveryType = deliveryType
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return cmd, "paymentMethod", err
	}
	cmd.PaymentMethod = method
	if req.DeliveryFee != nil {
		cmd.DeliveryFee = *req.DeliveryFee
	}
	cmd.Items = make([]services.OrderLineInput, 0, len(req.Items))
	for i, item := range req.Items {
		line, err := item.toInput(allowPrice)
		if err != nil {
			return cmd, fmt.Sprintf("items[%d]", i), err
		}
		cmd.Items = append(cmd.Items, line)
	}
	return cmd, "", nil
}

// parseOptionalStatus returns nil for an empty value.
func parseOptionalStatus(raw string) (*services.OrderStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Response bodies. Money is rendered as a string with two fraction digits.

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID              int64              `json:"id"`
	UserID          int64              `json:"userId"`
	Status          string             `json:"status"`
	DeliveryType    string             `json:"deliveryType"`
	PaymentMethod   string             `json:"paymentMethod"`
	TotalPrice      string             `json:"totalPrice"`
	DeliveryFee     string             `json:"deliveryFee"`
	TotalOverridden bool               `json:"totalOverridden"`
	Notes           string             `json:"notes,omitempty"`
	PrecisaTroco    bool               `json:"precisaTroco"`
	ValorTroco      *string            `json:"valorTroco,omitempty"`
	Shipping        *shippingPayload   `json:"shipping,omitempty"`
	DelivererID     *int64             `json:"delivererId,omitempty"`
	Items           []orderItemPayload `json:"items"`
	Pricing         *pricingPayload    `json:"pricing,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type shippingPayload struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	Phone        string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	ID              int64                           `json:"id"`
	ProductID       int64                           `json:"productId"`
	Quantity        int                             `json:"quantity"`
	PriceAtOrder    string                          `json:"priceAtOrder"`
	Total           string                          `json:"total"`
	ComplementIDs   []int64                         `json:"complementIds,omitempty"`
	SelectedOptions *domain.SelectedOptionsSnapshot `json:"selectedOptions,omitempty"`
}

type pricingPayload struct {
	Subtotal        string               `json:"subtotal"`
	DeliveryFee     string               `json:"deliveryFee"`
	Total           string               `json:"total"`
	Lines           []pricingLinePayload `json:"lines"`
	OrphanedItemIDs []int64              `json:"orphanedItemIds,omitempty"`
}

type pricingLinePayload struct {
	ItemID          int64    `json:"itemId"`
	ProductID       int64    `json:"productId"`
	ProductName     string   `json:"productName"`
	Quantity        int      `json:"quantity"`
	UnitPrice       string   `json:"unitPrice"`
	Total           string   `json:"total"`
	Custom          bool     `json:"custom,omitempty"`
	ComplementNames []string `json:"complementNames,omitempty"`
}

type statusChangePayload struct {
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	ActorID     string `json:"actorId,omitempty"`
	DelivererID *int64 `json:"delivererId,omitempty"`
	OccurredAt  string `json:"occurredAt"`
}

type transitionProposalPayload struct {
	OrderID              int64    `json:"orderId"`
	DeliveryType         string   `json:"deliveryType"`
	Current              string   `json:"current"`
	Next                 string   `json:"next"`
	Terminal             bool     `json:"terminal"`
	RequiresDeliverer    bool     `json:"requiresDeliverer"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	Path                 []string `json:"path"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		Status:          string(order.Status),
		DeliveryType:    string(order.DeliveryType),
		PaymentMethod:   string(order.PaymentMethod),
		TotalPrice:      domain.FormatMoney(order.TotalPrice),
		DeliveryFee:     domain.FormatMoney(order.DeliveryFee),
		TotalOverridden: order.TotalOverridden,
		Notes:           order.Notes,
		PrecisaTroco:    order.PrecisaTroco,
		DelivererID:     order.DelivererID,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.ValorTroco != nil {
		troco := domain.FormatMoney(*order.ValorTroco)
		payload.ValorTroco = &troco
	}
	if !order.Shipping.IsZero() {
		payload.Shipping = &shippingPayload{
			Street:       order.Shipping.Street,
			Number:       order.Shipping.Number,
			Complement:   order.Shipping.Complement,
			Neighborhood: order.Shipping.Neighborhood,
			Phone:        order.Shipping.Phone,
		}
	}
	for _, item := range order.Items {
		entry := orderItemPayload{
			ID:            item.ID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			PriceAtOrder:  domain.FormatMoney(item.PriceAtOrder),
			Total:         domain.FormatMoney(services.ItemTotal(item)),
			ComplementIDs: item.ComplementIDs,
		}
		if item.SelectedOptions != nil {
			snapshot := item.SelectedOptions.Clone()
			entry.SelectedOptions = &snapshot
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

func buildPricingPayload(breakdown services.PricingBreakdown) *pricingPayload {
	payload := &pricingPayload{
		Subtotal:        domain.FormatMoney(breakdown.Subtotal),
		DeliveryFee:     domain.FormatMoney(breakdown.DeliveryFee),
		Total:           domain.FormatMoney(breakdown.Total),
		Lines:           make([]pricingLinePayload, 0, len(breakdown.Lines)),
		OrphanedItemIDs: breakdown.OrphanedItemIDs,
	}
	for _, line := range breakdown.Lines {
		payload.Lines = append(payload.Lines, pricingLinePayload{
			ItemID:          line.ItemID,
			ProductID:       line.ProductID,
			ProductName:     line.ProductName,
			Quantity:        line.Quantity,
			UnitPrice:       domain.FormatMoney(line.UnitPrice),
			Total:           domain.FormatMoney(line.Total),
			Custom:          line.Custom,
			ComplementNames: line.ComplementNames,
		})
	}
	return payload
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: strings.TrimSpace(page.NextPageToken)}
}

func buildStatusChanges(changes []services.StatusChange) []statusChangePayload {
	payload := make([]statusChangePayload, 0, len(changes))
	for _, change := range changes {
		payload = append(payload, statusChangePayload{
			From:        string(change.From),
			To:          string(change.To),
			ActorID:     change.ActorID,
			DelivererID: change.DelivererID,
			OccurredAt:  formatTime(change.OccurredAt),
		})
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
