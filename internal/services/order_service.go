package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/platform/textutil"
	"github.com/acai-shop/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventItemsChanged    = "order.items.changed"
	orderEventTotalOverridden = "order.total.overridden"

	maxNotesLength = 500
)

// pendingStatuses are the statuses the kitchen still has to act on.
var pendingStatuses = []OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusBeingPrepared}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Deliverers  DelivererLookup
	Catalog     CatalogLookup
	Users       UserDirectory
	Resolver    *CustomItemResolver
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Notifier    StatusNotifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	deliverers DelivererLookup
	catalog    CatalogLookup
	users      UserDirectory
	resolver   *CustomItemResolver
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	notifier   StatusNotifier
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Deliverers == nil {
		return nil, errors.New("order service: deliverer lookup is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog lookup is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user directory is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("order service: custom item resolver is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		deliverers: deps.Deliverers,
		catalog:    deps.Catalog,
		users:      deps.Users,
		resolver:   deps.Resolver,
		unitOfWork: unit,
		events:     deps.Events,
		notifier:   deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if cmd.UserID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "userId", "user id is required")
	}
	if _, err := domain.ParseDeliveryType(string(cmd.DeliveryType)); err != nil {
		return Order{}, invalidField(ErrOrderInvalidInput, "deliveryType", "%v", err)
	}
	if _, err := domain.ParsePaymentMethod(string(cmd.PaymentMethod)); err != nil {
		return Order{}, invalidField(ErrOrderInvalidInput, "paymentMethod", "%v", err)
	}
	if len(cmd.Items) == 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "items", "order must contain at least one item")
	}
	if cmd.DeliveryFee.IsNegative() {
		return Order{}, invalidField(ErrOrderInvalidInput, "deliveryFee", "delivery fee must not be negative")
	}
	if err := checkMoneyScale("deliveryFee", cmd.DeliveryFee); err != nil {
		return Order{}, err
	}
	if cmd.ValorTroco != nil {
		if err := checkMoneyScale("valorTroco", *cmd.ValorTroco); err != nil {
			return Order{}, err
		}
	}
	if cmd.PrecisaTroco && cmd.PaymentMethod != domain.PaymentMethodCashOnDelivery {
		return Order{}, invalidField(ErrOrderInvalidInput, "precisaTroco", "change is only available for cash on delivery")
	}
	if cmd.ValorTroco != nil && !cmd.PrecisaTroco {
		return Order{}, invalidField(ErrOrderInvalidInput, "valorTroco", "valorTroco requires precisaTroco")
	}
	if cmd.PrecisaTroco && cmd.ValorTroco == nil {
		return Order{}, invalidField(ErrOrderInvalidInput, "valorTroco", "valorTroco is required when change is needed")
	}

	if _, err := s.users.GetUser(ctx, cmd.UserID); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "userId")
	}

	now := s.now()
	order := Order{
		UserID:        cmd.UserID,
		Status:        domain.OrderStatusPendingPayment,
		DeliveryType:  cmd.DeliveryType,
		DeliveryFee:   decimal.Zero,
		PaymentMethod: cmd.PaymentMethod,
		Notes:         textutil.PlainText(cmd.Notes, maxNotesLength),
		PrecisaTroco:  cmd.PrecisaTroco,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.DeliveryType == domain.DeliveryTypeDelivery {
		if cmd.AddressID == nil || *cmd.AddressID <= 0 {
			return Order{}, invalidField(ErrOrderInvalidInput, "addressId", "address is required for delivery orders")
		}
		address, err := s.users.GetAddress(ctx, cmd.UserID, *cmd.AddressID)
		if err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "addressId")
		}
		order.Shipping = address.Snapshot()
		order.DeliveryFee = cmd.DeliveryFee
	}

	for i, line := range cmd.Items {
		item, err := s.buildItem(ctx, line, cmd.AllowPriceOverride, fmt.Sprintf("items[%d]", i))
		if err != nil {
			return Order{}, err
		}
		item.ID = order.AllocateItemID()
		order.Items = append(order.Items, item)
	}
	order.TotalPrice = OrderTotal(order)

	if cmd.ValorTroco != nil {
		if cmd.ValorTroco.LessThan(order.TotalPrice) {
			return Order{}, invalidField(ErrOrderInvalidInput, "valorTroco", "valorTroco %s is below the order total %s",
				domain.FormatMoney(*cmd.ValorTroco), domain.FormatMoney(order.TotalPrice))
		}
		change := *cmd.ValorTroco
		order.ValorTroco = &change
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		created, err := s.orders.Insert(txCtx, order)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		order = created
		return mapRepositoryError(s.orders.AppendStatusChange(txCtx, StatusChange{
			OrderID:    created.ID,
			To:         created.Status,
			ActorID:    cmd.ActorID,
			OccurredAt: now,
		}), ErrOrderNotFound, ErrOrderConflict, "")
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":      order.ID,
		"userId":       order.UserID,
		"deliveryType": string(order.DeliveryType),
		"total":        domain.FormatMoney(order.TotalPrice),
		"items":        len(order.Items),
		"actorId":      cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       cmd.ActorID,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    now,
	})
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, invalidField(ErrOrderInvalidInput, "status", "unknown order status %q", status)
		}
	}
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return domain.CursorPage[Order]{}, invalidField(ErrOrderInvalidInput, "from", "from must not be after to")
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64, opts OrderReadOptions) (Order, error) {
	if orderID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "orderId", "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "orderId")
	}
	if opts.OwnerID != nil && order.UserID != *opts.OwnerID {
		return Order{}, notFound(ErrOrderNotFound, "orderId", "order %d not found", orderID)
	}
	return order, nil
}

func (s *orderService) PendingCount(ctx context.Context) (int, error) {
	count, err := s.orders.CountByStatus(ctx, pendingStatuses)
	if err != nil {
		return 0, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
	}
	return count, nil
}

func (s *orderService) StatusHistory(ctx context.Context, orderID int64) ([]StatusChange, error) {
	if orderID <= 0 {
		return nil, invalidField(ErrOrderInvalidInput, "orderId", "order id is required")
	}
	changes, err := s.orders.ListStatusChanges(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "orderId")
	}
	return changes, nil
}

func (s *orderService) ProposeTransition(ctx context.Context, orderID int64) (TransitionProposal, error) {
	order, err := s.GetOrder(ctx, orderID, OrderReadOptions{})
	if err != nil {
		return TransitionProposal{}, err
	}
	next, moves := domain.Successor(order.Status, order.DeliveryType)
	proposal := TransitionProposal{
		OrderID:      order.ID,
		DeliveryType: order.DeliveryType,
		Current:      order.Status,
		Next:         next,
		Terminal:     !moves,
		Path:         domain.StatusPath(order.DeliveryType),
	}
	if moves {
		proposal.RequiresDeliverer = domain.RequiresDeliverer(order.Status, next, order.DeliveryType)
		proposal.RequiresConfirmation = domain.RequiresConfirmation(next)
	}
	return proposal, nil
}

func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error) {
	if cmd.OrderID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "orderId", "order id is required")
	}
	if cmd.TargetStatus != nil && !cmd.TargetStatus.Valid() {
		return Order{}, invalidField(ErrOrderInvalidInput, "status", "unknown order status %q", *cmd.TargetStatus)
	}
	if cmd.DelivererID != nil && *cmd.DelivererID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "delivererId", "deliverer id must be positive")
	}

	var (
		order  Order
		change StatusChange
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadForUpdate(txCtx, cmd.OrderID, cmd.ExpectedStatus)
		if err != nil {
			return err
		}
		next, moves := domain.Successor(current.Status, current.DeliveryType)
		if !moves {
			return invalidState(ReasonInvalidTransition, "order %d has no status after %s", current.ID, current.Status)
		}
		target := next
		if cmd.TargetStatus != nil {
			target = *cmd.TargetStatus
		}
		if target != next {
			return invalidState(ReasonInvalidTransition, "order %d cannot move from %s to %s; next status is %s",
				current.ID, current.Status, target, next)
		}

		needsDeliverer := domain.RequiresDeliverer(current.Status, target, current.DeliveryType)
		if cmd.DelivererID != nil && !needsDeliverer {
			if current.DeliveryType == domain.DeliveryTypePickup {
				return invalidField(ErrOrderInvalidInput, "delivererId", "pickup orders do not take a deliverer")
			}
			return invalidField(ErrOrderInvalidInput, "delivererId", "a deliverer is only assigned when moving to %s", domain.OrderStatusOnTheWay)
		}
		if needsDeliverer {
			if cmd.DelivererID == nil {
				return invalidState(ReasonDelivererRequired, "order %d needs a deliverer before moving to %s", current.ID, target)
			}
			deliverer, err := s.deliverers.FindByID(txCtx, *cmd.DelivererID)
			if err != nil {
				return mapRepositoryError(err, ErrDelivererNotFound, ErrOrderConflict, "delivererId")
			}
			if !deliverer.IsActive {
				return invalidState(ReasonDelivererInactive, "deliverer %d is inactive", deliverer.ID)
			}
			id := deliverer.ID
			current.DelivererID = &id
		}
		if domain.RequiresConfirmation(target) && !cmd.Confirm {
			return invalidState(ReasonConfirmationRequired, "moving order %d to %s must be confirmed", current.ID, target)
		}

		now := s.now()
		previous := current.Status
		current.Status = target
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current, previous); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		change = StatusChange{
			OrderID:     current.ID,
			From:        previous,
			To:          target,
			ActorID:     cmd.ActorID,
			DelivererID: current.DelivererID,
			OccurredAt:  now,
		}
		if !needsDeliverer {
			change.DelivererID = nil
		}
		if err := s.orders.AppendStatusChange(txCtx, change); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterStatusChange(ctx, order, change, "")
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if cmd.OrderID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "orderId", "order id is required")
	}

	var (
		order  Order
		change StatusChange
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "orderId")
		}
		if cmd.OwnerID != nil && current.UserID != *cmd.OwnerID {
			return notFound(ErrOrderNotFound, "orderId", "order %d not found", cmd.OrderID)
		}
		if err := checkExpectedStatus(current, cmd.ExpectedStatus); err != nil {
			return err
		}
		if current.IsTerminal() {
			return invalidState(ReasonOrderTerminal, "order %d is already %s", current.ID, current.Status)
		}
		if !current.Status.IsCancellable() {
			return invalidState(ReasonNotCancellable, "order %d cannot be canceled while %s", current.ID, current.Status)
		}

		now := s.now()
		previous := current.Status
		current.Status = domain.OrderStatusCanceled
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current, previous); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		change = StatusChange{
			OrderID:    current.ID,
			From:       previous,
			To:         domain.OrderStatusCanceled,
			ActorID:    cmd.ActorID,
			OccurredAt: now,
		}
		if err := s.orders.AppendStatusChange(txCtx, change); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterStatusChange(ctx, order, change, cmd.Reason)
	return order, nil
}

func (s *orderService) AddItem(ctx context.Context, cmd AddItemCommand) (Order, error) {
	var added OrderItem
	order, previousTotal, wasOverridden, err := s.mutate(ctx, cmd.OrderID, cmd.ExpectedStatus, func(txCtx context.Context, order *Order) error {
		item, err := s.buildItem(txCtx, cmd.Line, true, "")
		if err != nil {
			return err
		}
		item.ID = order.AllocateItemID()
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
		added = item
		return s.recomputeTotal(order)
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.item.added", map[string]any{
		"orderId":           order.ID,
		"itemId":            added.ID,
		"productId":         added.ProductID,
		"quantity":          added.Quantity,
		"priceAtOrder":      domain.FormatMoney(added.PriceAtOrder),
		"previousTotal":     domain.FormatMoney(previousTotal),
		"total":             domain.FormatMoney(order.TotalPrice),
		"overrideDiscarded": wasOverridden,
		"actorId":           cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventItemsChanged,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       cmd.ActorID,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    order.UpdatedAt,
		Metadata:      map[string]any{"action": "added", "itemId": added.ID},
	})
	return order, nil
}

func (s *orderService) RemoveItem(ctx context.Context, cmd RemoveItemCommand) (Order, error) {
	if cmd.ItemID <= 0 {
		return Order{}, invalidField(ErrOrderInvalidInput, "itemId", "item id is required")
	}
	order, previousTotal, wasOverridden, err := s.mutate(ctx, cmd.OrderID, cmd.ExpectedStatus, func(_ context.Context, order *Order) error {
		idx := order.FindItem(cmd.ItemID)
		if idx < 0 {
			return notFound(ErrOrderNotFound, "itemId", "item %d does not belong to order %d", cmd.ItemID, order.ID)
		}
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		return s.recomputeTotal(order)
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.item.removed", map[string]any{
		"orderId":           order.ID,
		"itemId":            cmd.ItemID,
		"previousTotal":     domain.FormatMoney(previousTotal),
		"total":             domain.FormatMoney(order.TotalPrice),
		"overrideDiscarded": wasOverridden,
		"actorId":           cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventItemsChanged,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       cmd.ActorID,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    order.UpdatedAt,
		Metadata:      map[string]any{"action": "removed", "itemId": cmd.ItemID},
	})
	return order, nil
}

func (s *orderService) OverrideTotal(ctx context.Context, cmd OverrideTotalCommand) (Order, error) {
	if !cmd.Total.IsPositive() {
		return Order{}, invalidField(ErrOrderInvalidInput, "totalPrice", "total must be greater than zero")
	}
	if err := checkMoneyScale("totalPrice", cmd.Total); err != nil {
		return Order{}, err
	}
	var computed decimal.Decimal
	order, previousTotal, _, err := s.mutate(ctx, cmd.OrderID, cmd.ExpectedStatus, func(_ context.Context, order *Order) error {
		computed = OrderTotal(*order)
		if err := checkChangeCoversTotal(*order, cmd.Total); err != nil {
			return err
		}
		order.TotalPrice = cmd.Total
		order.TotalOverridden = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, orderEventTotalOverridden, map[string]any{
		"orderId":       order.ID,
		"previousTotal": domain.FormatMoney(previousTotal),
		"computedTotal": domain.FormatMoney(computed),
		"total":         domain.FormatMoney(order.TotalPrice),
		"reason":        cmd.Reason,
		"actorId":       cmd.ActorID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventTotalOverridden,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       cmd.ActorID,
		TotalPrice:    order.TotalPrice,
		OccurredAt:    order.UpdatedAt,
		Metadata: map[string]any{
			"previousTotal": domain.FormatMoney(previousTotal),
			"computedTotal": domain.FormatMoney(computed),
			"reason":        cmd.Reason,
		},
	})
	return order, nil
}

// mutate applies fn to a non-terminal order inside one transaction and stores the result with a
// compare-and-set on the status it read.
func (s *orderService) mutate(ctx context.Context, orderID int64, expected *OrderStatus, fn func(context.Context, *Order) error) (Order, decimal.Decimal, bool, error) {
	if orderID <= 0 {
		return Order{}, decimal.Zero, false, invalidField(ErrOrderInvalidInput, "orderId", "order id is required")
	}
	var (
		order         Order
		previousTotal decimal.Decimal
		wasOverridden bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadForUpdate(txCtx, orderID, expected)
		if err != nil {
			return err
		}
		previousTotal = current.TotalPrice
		wasOverridden = current.TotalOverridden
		if err := fn(txCtx, &current); err != nil {
			return err
		}
		current.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, current, current.Status); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "")
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, decimal.Zero, false, err
	}
	return order, previousTotal, wasOverridden, nil
}

// loadForUpdate reads the order inside the transaction and rejects stale or terminal orders.
func (s *orderService) loadForUpdate(ctx context.Context, orderID int64, expected *OrderStatus) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "orderId")
	}
	if err := checkExpectedStatus(order, expected); err != nil {
		return Order{}, err
	}
	if order.IsTerminal() {
		return Order{}, invalidState(ReasonOrderTerminal, "order %d is %s and can no longer change", order.ID, order.Status)
	}
	return order, nil
}

// recomputeTotal restores the sum-of-items invariant, discarding any manual override.
func (s *orderService) recomputeTotal(order *Order) error {
	total := OrderTotal(*order)
	if err := checkChangeCoversTotal(*order, total); err != nil {
		return err
	}
	order.TotalPrice = total
	order.TotalOverridden = false
	return nil
}

// buildItem resolves a line into an item with a frozen price. Catalog lines take the current
// catalog price unless allowPrice is set and the line carries its own price.
func (s *orderService) buildItem(ctx context.Context, line OrderLineInput, allowPrice bool, fieldPrefix string) (OrderItem, error) {
	field := func(name string) string {
		if fieldPrefix == "" {
			return name
		}
		return fieldPrefix + "." + name
	}

	if line.Custom != nil {
		if line.ProductID != 0 {
			return OrderItem{}, invalidField(ErrOrderInvalidInput, field("productId"), "custom items must not reference a product")
		}
		custom := *line.Custom
		if custom.Quantity == 0 {
			custom.Quantity = line.Quantity
		}
		item, err := s.resolver.Resolve(ctx, custom)
		if err != nil {
			return OrderItem{}, prefixField(err, fieldPrefix)
		}
		return item, nil
	}

	if line.ProductID <= 0 {
		return OrderItem{}, invalidField(ErrOrderInvalidInput, field("productId"), "product id is required")
	}
	if line.Quantity < 1 {
		return OrderItem{}, invalidField(ErrOrderInvalidInput, field("quantity"), "quantity must be at least 1")
	}

	item := OrderItem{
		ProductID:     line.ProductID,
		Quantity:      line.Quantity,
		ComplementIDs: dedupeIDs(line.ComplementIDs),
	}
	if allowPrice && line.Price != nil {
		if line.Price.IsNegative() {
			return OrderItem{}, invalidField(ErrOrderInvalidInput, field("price"), "price must not be negative")
		}
		if err := checkMoneyScale(field("price"), *line.Price); err != nil {
			return OrderItem{}, err
		}
		item.PriceAtOrder = *line.Price
	} else {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return OrderItem{}, prefixField(mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "productId"), fieldPrefix)
		}
		if !product.IsActive {
			return OrderItem{}, &ServiceError{Kind: ErrOrderInvalidInput, Field: field("productId"), Reason: ReasonProductInactive,
				Message: fmt.Sprintf("product %d is not available", product.ID)}
		}
		item.PriceAtOrder = product.Price
	}
	if len(item.ComplementIDs) > 0 {
		if _, err := s.catalog.GetComplementNames(ctx, item.ComplementIDs); err != nil {
			return OrderItem{}, prefixField(mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "complementIds"), fieldPrefix)
		}
	}
	return item, nil
}

// checkMoneyScale refuses amounts with more fraction digits than a price can carry, so what is
// stored is exactly what every response shows.
func checkMoneyScale(field string, amount decimal.Decimal) error {
	if domain.FitsMoneyPlaces(amount) {
		return nil
	}
	return &ServiceError{Kind: ErrOrderInvalidInput, Field: field, Reason: ReasonMoneyPrecision,
		Message: fmt.Sprintf("%s must have at most %d decimal places", field, domain.MoneyPlaces)}
}

// prefixField qualifies the field of a ServiceError with the position of the offending line.
func prefixField(err error, prefix string) error {
	var svcErr *ServiceError
	if prefix != "" && errors.As(err, &svcErr) && svcErr.Field != "" {
		svcErr.Field = prefix + "." + svcErr.Field
	}
	return err
}

func (s *orderService) afterStatusChange(ctx context.Context, order Order, change StatusChange, reason string) {
	fields := map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(change.From),
		"status":         string(change.To),
		"actorId":        change.ActorID,
	}
	if change.DelivererID != nil {
		fields["delivererId"] = *change.DelivererID
	}
	if reason != "" {
		fields["reason"] = reason
	}
	s.logger(ctx, orderEventStatusChanged, fields)

	event := OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: change.From,
		CurrentStatus:  change.To,
		ActorID:        change.ActorID,
		DelivererID:    change.DelivererID,
		TotalPrice:     order.TotalPrice,
		OccurredAt:     change.OccurredAt,
	}
	if reason != "" {
		event.Metadata = map[string]any{"reason": reason}
	}
	s.publishEvent(ctx, event)

	if s.notifier != nil {
		if err := s.notifier.NotifyStatusChange(ctx, order, change); err != nil {
			s.logger(ctx, "order.notification.failed", map[string]any{
				"orderId": order.ID,
				"status":  string(change.To),
				"error":   err.Error(),
			})
		}
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"eventType": event.Type,
			"orderId":   event.OrderID,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func checkExpectedStatus(order Order, expected *OrderStatus) error {
	if expected == nil || order.Status == *expected {
		return nil
	}
	return &ServiceError{
		Kind:    ErrOrderConflict,
		Reason:  ReasonStatusChanged,
		Message: fmt.Sprintf("order %d is %s, expected %s", order.ID, order.Status, *expected),
	}
}

// checkChangeCoversTotal keeps the cash tendered at or above the order total.
func checkChangeCoversTotal(order Order, total decimal.Decimal) error {
	if order.ValorTroco == nil || !order.ValorTroco.LessThan(total) {
		return nil
	}
	return invalidState(ReasonChangeBelowTotal, "cash tendered %s is below the new total %s",
		domain.FormatMoney(*order.ValorTroco), domain.FormatMoney(total))
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
