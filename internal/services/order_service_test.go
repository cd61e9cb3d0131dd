package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

func TestOrderService_PlaceCashOrder_AppliesCouponAndRedeems(t *testing.T) {
	now := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	fix := newOrderFixture(t, now)
	fix.products.catalog = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Dog food", Price: 2000},
		"prod-2": {ID: "prod-2", Name: "Cat toy", Price: 500},
	}
	fix.couponRepo.coupons = map[string]domain.Coupon{
		"SALE50": {Code: "SALE50", Discount: 50, StartDate: now.Add(-time.Hour), ExpiryDate: now.Add(time.Hour), Active: true},
	}

	order, err := fix.svc.PlaceCashOrder(context.Background(), PlaceOrderCommand{
		UserID: "user-1",
		Lines: []OrderLine{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-2", Variant: "red", Quantity: 2},
		},
		CouponCode: "sale50",
	})
	if err != nil {
		t.Fatalf("PlaceCashOrder returned error: %v", err)
	}

	if order.TotalAmount != 1500 {
		t.Fatalf("expected discounted total 1500 got %d", order.TotalAmount)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status got %s", order.Status)
	}
	if order.Payment.Kind() != domain.PaymentMethodCash {
		t.Fatalf("expected cash payment method got %s", order.Payment.Kind())
	}
	if order.CouponCode != "SALE50" {
		t.Fatalf("expected canonical coupon code got %q", order.CouponCode)
	}
	if len(order.Items) != 2 || order.Items[1].UnitPrice != 500 || order.Items[1].Variant != "red" {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if fix.orders.inserted == nil {
		t.Fatalf("expected order to be persisted")
	}
	if fix.couponRepo.deactivated != "SALE50" {
		t.Fatalf("expected coupon to be burnt at placement, got %q", fix.couponRepo.deactivated)
	}
	if len(fix.events.published) != 1 || fix.events.published[0].EventType != orderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", fix.events.published)
	}
}

func TestOrderService_PlaceCashOrder_CashDisabled(t *testing.T) {
	now := time.Now().UTC()
	fix := newOrderFixture(t, now)
	fix.settingsRepo.stored = &domain.PaymentSettings{CashEnabled: false, GatewayEnabled: true}

	_, err := fix.svc.PlaceCashOrder(context.Background(), PlaceOrderCommand{
		UserID: "user-1",
		Lines:  []OrderLine{{ProductID: "prod-1", Quantity: 1}},
	})
	if !errors.Is(err, ErrPaymentMethodDisabled) {
		t.Fatalf("expected ErrPaymentMethodDisabled got %v", err)
	}
}

func TestOrderService_PlaceCashOrder_UnknownProduct(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())

	_, err := fix.svc.PlaceCashOrder(context.Background(), PlaceOrderCommand{
		UserID: "user-1",
		Lines:  []OrderLine{{ProductID: "missing", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderProductNotFound) {
		t.Fatalf("expected ErrOrderProductNotFound got %v", err)
	}
}

func TestOrderService_PlaceCashOrder_InvalidLines(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())

	cases := []PlaceOrderCommand{
		{UserID: "user-1"},
		{UserID: "user-1", Lines: []OrderLine{{ProductID: "", Quantity: 1}}},
		{UserID: "user-1", Lines: []OrderLine{{ProductID: "prod-1", Quantity: 0}}},
		{Lines: []OrderLine{{ProductID: "prod-1", Quantity: 1}}},
	}
	for i, cmd := range cases {
		if _, err := fix.svc.PlaceCashOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: expected ErrOrderInvalidInput got %v", i, err)
		}
	}
}

func TestOrderService_PlaceCashOrder_ExpiredCouponSkipsDiscount(t *testing.T) {
	now := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	fix := newOrderFixture(t, now)
	fix.products.catalog = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Price: 1000},
	}
	fix.couponRepo.coupons = map[string]domain.Coupon{
		"GONE": {Code: "GONE", Discount: 20, ExpiryDate: now.Add(-time.Hour), Active: true},
	}

	order, err := fix.svc.PlaceCashOrder(context.Background(), PlaceOrderCommand{
		UserID:     "user-1",
		Lines:      []OrderLine{{ProductID: "prod-1", Quantity: 1}},
		CouponCode: "GONE",
	})
	if err != nil {
		t.Fatalf("PlaceCashOrder returned error: %v", err)
	}
	if order.TotalAmount != 1000 {
		t.Fatalf("expected full price 1000 got %d", order.TotalAmount)
	}
	if order.CouponCode != "" {
		t.Fatalf("expected no coupon on order, got %q", order.CouponCode)
	}
	// Pricing must never touch coupon state; lapsed coupons are deactivated
	// through the validate endpoint only.
	if fix.couponRepo.deactivated != "" {
		t.Fatalf("expected coupon left untouched, got deactivation of %q", fix.couponRepo.deactivated)
	}
	if fix.orders.inserted == nil {
		t.Fatalf("expected order to be persisted")
	}
}

func TestOrderService_PlaceCashOrder_UnknownCouponFullPrice(t *testing.T) {
	now := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	fix := newOrderFixture(t, now)
	fix.products.catalog = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Price: 100000},
	}

	order, err := fix.svc.PlaceCashOrder(context.Background(), PlaceOrderCommand{
		UserID:     "user-1",
		Lines:      []OrderLine{{ProductID: "prod-1", Quantity: 2}},
		CouponCode: "NOPE",
	})
	if err != nil {
		t.Fatalf("PlaceCashOrder returned error: %v", err)
	}
	if order.TotalAmount != 200000 {
		t.Fatalf("expected full price 200000 got %d", order.TotalAmount)
	}
	if order.CouponCode != "" {
		t.Fatalf("expected no coupon on order, got %q", order.CouponCode)
	}
	if fix.couponRepo.deactivated != "" {
		t.Fatalf("expected no coupon deactivation, got %q", fix.couponRepo.deactivated)
	}
}

func TestOrderService_GetOrder_ForbidsForeignOrders(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())
	fix.orders.byID = map[string]domain.Order{
		"ord-1": {ID: "ord-1", UserID: "owner", Status: domain.OrderStatusPending},
	}

	if _, err := fix.svc.GetOrder(context.Background(), "ord-1", OrderReadOptions{RequestingUserID: "intruder"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden for foreign order got %v", err)
	}

	order, err := fix.svc.GetOrder(context.Background(), "ord-1", OrderReadOptions{RequestingUserID: "owner"})
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if order.ID != "ord-1" {
		t.Fatalf("unexpected order %+v", order)
	}

	if _, err := fix.svc.GetOrder(context.Background(), "ord-1", OrderReadOptions{AllowAnyUser: true}); err != nil {
		t.Fatalf("expected staff read to succeed, got %v", err)
	}
}

func TestOrderService_UpdateStatus_TransitionsAndPublishes(t *testing.T) {
	now := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	fix := newOrderFixture(t, now)
	fix.orders.byID = map[string]domain.Order{
		"ord-1": {ID: "ord-1", UserID: "owner", Status: domain.OrderStatusPending},
	}

	order, err := fix.svc.UpdateStatus(context.Background(), OrderStatusCommand{
		OrderID: "ord-1",
		Status:  domain.OrderStatusShipped,
		ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped status got %s", order.Status)
	}
	if !order.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %v got %v", now, order.UpdatedAt)
	}
	if len(fix.events.published) != 1 || fix.events.published[0].EventType != orderEventStatusChanged {
		t.Fatalf("expected status change event, got %+v", fix.events.published)
	}
}

func TestOrderService_UpdateStatus_SameStatusIsNoop(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())
	fix.orders.byID = map[string]domain.Order{
		"ord-1": {ID: "ord-1", Status: domain.OrderStatusShipped},
	}

	if _, err := fix.svc.UpdateStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", Status: domain.OrderStatusShipped}); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if fix.orders.updated != nil {
		t.Fatalf("expected no write for unchanged status")
	}
	if len(fix.events.published) != 0 {
		t.Fatalf("expected no event for unchanged status")
	}
}

func TestOrderService_UpdateStatus_RejectsUnknownStatus(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())

	if _, err := fix.svc.UpdateStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", Status: "teleported"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}
}

func TestOrderService_ListUserOrders_ScopesFilter(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())
	fix.orders.listPage = domain.CursorPage[domain.Order]{
		Items: []domain.Order{{ID: "ord-1", UserID: "user-1"}},
	}

	page, err := fix.svc.ListUserOrders(context.Background(), "user-1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("ListUserOrders returned error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if fix.orders.lastFilter.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %q", fix.orders.lastFilter.UserID)
	}

	if _, err := fix.svc.ListUserOrders(context.Background(), "  ", Pagination{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for blank user, got %v", err)
	}
}

func TestOrderService_DeleteOrder_NotFound(t *testing.T) {
	fix := newOrderFixture(t, time.Now().UTC())
	fix.orders.deleteErr = &stubRepoError{notFound: true}

	if err := fix.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}

// Shared fixtures ------------------------------------------------------------

type orderFixture struct {
	svc          OrderService
	orders       *stubOrderRepository
	products     *stubProductRepository
	couponRepo   *stubCouponRepository
	settingsRepo *stubSettingsRepository
	events       *capturingPublisher
}

func newOrderFixture(t *testing.T, now time.Time) *orderFixture {
	t.Helper()

	orders := &stubOrderRepository{}
	products := &stubProductRepository{catalog: map[string]domain.Product{}}
	couponRepo := &stubCouponRepository{}
	settingsRepo := &stubSettingsRepository{
		stored: &domain.PaymentSettings{CashEnabled: true, GatewayEnabled: true},
	}
	events := &capturingPublisher{}

	coupons, err := NewCouponService(CouponServiceDeps{
		Coupons: couponRepo,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	settings, err := NewSettingsService(SettingsServiceDeps{
		Settings: settingsRepo,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Products:    products,
		Coupons:     coupons,
		Settings:    settings,
		Events:      events,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "ord-test" },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	return &orderFixture{
		svc:          svc,
		orders:       orders,
		products:     products,
		couponRepo:   couponRepo,
		settingsRepo: settingsRepo,
		events:       events,
	}
}

type stubOrderRepository struct {
	byID       map[string]domain.Order
	bySession  map[string]domain.Order
	stale      []domain.Order
	listPage   domain.CursorPage[domain.Order]
	inserted   *domain.Order
	updated    *domain.Order
	insertErr  error
	updateErr  error
	deleteErr  error
	listErr    error
	lastFilter OrderListFilter
	lastCutoff time.Time
	staleLimit int
	deletedID  string
}

func (s *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = &order
	if s.byID == nil {
		s.byID = map[string]domain.Order{}
	}
	s.byID[order.ID] = order
	return nil
}

func (s *stubOrderRepository) Update(_ context.Context, order domain.Order) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = &order
	if s.byID == nil {
		s.byID = map[string]domain.Order{}
	}
	s.byID[order.ID] = order
	return nil
}

func (s *stubOrderRepository) Delete(_ context.Context, orderID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedID = orderID
	delete(s.byID, orderID)
	return nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.byID[orderID]
	if !ok {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) FindBySessionID(_ context.Context, sessionID string) (domain.Order, error) {
	order, ok := s.bySession[sessionID]
	if !ok {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) List(_ context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return domain.CursorPage[domain.Order]{}, s.listErr
	}
	return s.listPage, nil
}

func (s *stubOrderRepository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	s.lastCutoff = olderThan
	s.staleLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.stale, nil
}

type stubProductRepository struct {
	catalog map[string]domain.Product
	err     error
}

func (s *stubProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.catalog[productID]
	if !ok {
		return domain.Product{}, &stubRepoError{notFound: true}
	}
	return product, nil
}

func (s *stubProductRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	found := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.catalog[id]; ok {
			found[id] = product
		}
	}
	return found, nil
}

type capturingPublisher struct {
	published []OrderEventMessage
	err       error
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, event OrderEventMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, event)
	return "msg-1", nil
}
