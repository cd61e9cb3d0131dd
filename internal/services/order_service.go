package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCompleted     = "order.completed"
	orderEventPaymentFailed = "order.payment_failed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller is not allowed to access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderProductNotFound indicates a requested catalog product does not exist.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderConflict indicates a duplicate insert or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates order storage is currently unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrPaymentMethodDisabled indicates the requested payment method is switched off.
	ErrPaymentMethodDisabled = errors.New("order: payment method disabled")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Coupons     CouponService
	Settings    SettingsService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	coupons  CouponService
	settings SettingsService
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		coupons:  deps.Coupons,
		settings: deps.Settings,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceCashOrder records a cash-on-delivery order and burns the coupon immediately.
func (s *orderService) PlaceCashOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	settings, err := s.settings.PaymentSettings(ctx)
	if err != nil {
		return Order{}, err
	}
	if !settings.CashEnabled {
		return Order{}, ErrPaymentMethodDisabled
	}

	draft, err := buildOrderDraft(ctx, s.products, s.coupons, cmd.Lines, cmd.CouponCode, s.logger)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := Order{
		ID:          s.newID(),
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		TotalAmount: draft.total,
		CouponCode:  draft.couponCode,
		Items:       draft.items,
		Payment:     domain.CashOnDelivery{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	// Cash orders settle offline, so the coupon is spent at placement.
	if draft.couponCode != "" {
		if _, err := s.coupons.Redeem(ctx, draft.couponCode); err != nil {
			s.logger(ctx, "order.coupon_redeem_failed", map[string]any{
				"orderId": order.ID,
				"code":    draft.couponCode,
				"error":   err.Error(),
			})
		}
	}

	s.publishOrderEvent(ctx, orderEventCreated, order)
	return order, nil
}

// ListOrders pages through orders matching the filter for administrative views.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateOrderError(err)
	}
	return page, nil
}

// ListUserOrders pages through one shopper's own orders.
func (s *orderService) ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, OrderListFilter{
		UserID:     trimmed,
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateOrderError(err)
	}
	return page, nil
}

// GetOrder fetches a single order, rejecting callers who do not own it.
func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if !opts.AllowAnyUser && !strings.EqualFold(order.UserID, strings.TrimSpace(opts.RequestingUserID)) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// UpdateStatus moves an order to the requested lifecycle state.
func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}

	previous := order.Status
	if previous == cmd.Status {
		return order, nil
	}

	order.Status = cmd.Status
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(order.Status),
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	s.publishOrderEvent(ctx, orderEventStatusChanged, order)
	return order, nil
}

// DeleteOrder removes an order record.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return s.translateOrderError(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{
		"orderId": id,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return nil
}

func (s *orderService) publishOrderEvent(ctx context.Context, eventType string, order Order) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventID:     ulid.Make().String(),
		EventType:   eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		CouponCode:  order.CouponCode,
		OccurredAt:  s.clock(),
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) translateOrderError(err error) error {
	return translateOrderRepoError(err)
}

func translateOrderRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return err
}

// orderDraft carries the priced line items and totals shared by the cash and
// gateway checkout paths.
type orderDraft struct {
	items      []domain.OrderItem
	subtotal   int64
	discount   int64
	total      int64
	couponCode string
	percent    int
	products   map[string]domain.Product
}

func buildOrderDraft(ctx context.Context, products repositories.ProductRepository, coupons CouponService, lines []OrderLine, couponCode string, logger func(context.Context, string, map[string]any)) (orderDraft, error) {
	if len(lines) == 0 {
		return orderDraft{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return orderDraft{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return orderDraft{}, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
		}
		ids = append(ids, productID)
	}

	catalog, err := products.FindByIDs(ctx, ids)
	if err != nil {
		return orderDraft{}, translateOrderRepoError(err)
	}

	draft := orderDraft{
		items:    make([]domain.OrderItem, 0, len(lines)),
		products: catalog,
	}
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := catalog[productID]
		if !ok {
			return orderDraft{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
		}
		item := domain.OrderItem{
			ProductID: productID,
			Variant:   strings.TrimSpace(line.Variant),
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		}
		draft.items = append(draft.items, item)
		draft.subtotal += item.LineTotal()
	}

	draft.total = draft.subtotal
	if trimmed := strings.TrimSpace(couponCode); trimmed != "" {
		coupon, err := coupons.ActiveCoupon(ctx, trimmed)
		switch {
		case err == nil:
			draft.discount = coupon.DiscountAmount(draft.subtotal)
			draft.total = draft.subtotal - draft.discount
			draft.couponCode = coupon.Code
			draft.percent = coupon.Discount
		case errors.Is(err, ErrCouponNotFound),
			errors.Is(err, ErrCouponNotStarted),
			errors.Is(err, ErrCouponExpired):
			// An unusable code never blocks the purchase; the order proceeds at full price.
			if logger != nil {
				logger(ctx, "order.coupon_skipped", map[string]any{
					"code":   trimmed,
					"reason": err.Error(),
				})
			}
		default:
			return orderDraft{}, err
		}
	}
	return draft, nil
}
