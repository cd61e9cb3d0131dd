package services

import (
	"context"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	Coupon             = domain.Coupon
	PaymentSettings    = domain.PaymentSettings
	Product            = domain.Product
	SystemHealthReport = domain.SystemHealthReport
)

// CouponService validates, lists, and administers discount coupons.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	ActiveCoupon(ctx context.Context, code string) (Coupon, error)
	ActiveCoupons(ctx context.Context) ([]Coupon, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	GetCoupon(ctx context.Context, couponID string) (Coupon, error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, couponID string) error
	Redeem(ctx context.Context, code string) (Coupon, error)
}

// OrderService encapsulates order read/write flows for shoppers and staff.
type OrderService interface {
	PlaceCashOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
}

// CheckoutService coordinates hosted payment sessions and their settlement outcomes.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
	ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (CheckoutResult, error)
	PaymentDetails(ctx context.Context, orderID string) (OrderPaymentDetails, error)
	ReconcileStale(ctx context.Context, cmd ReconcileCommand) (ReconcileReport, error)
}

// SettingsService gates which payment methods the storefront accepts.
type SettingsService interface {
	PaymentSettings(ctx context.Context) (PaymentSettings, error)
	UpdatePaymentSettings(ctx context.Context, cmd UpdatePaymentSettingsCommand) (PaymentSettings, error)
}

// SystemService aggregates utility endpoints such as dependency health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type ValidateCouponCommand struct {
	Code   string
	UserID string
}

// CouponValidation reports the outcome of a successful coupon check.
type CouponValidation struct {
	Code       string
	Discount   int
	ExpiryDate time.Time
}

type CouponListFilter = repositories.CouponListFilter

type UpsertCouponCommand struct {
	CouponID   string
	Code       string
	Discount   int
	StartDate  time.Time
	ExpiryDate time.Time
	Active     *bool
	ActorID    string
}

// OrderLine identifies a product and quantity requested at checkout.
type OrderLine struct {
	ProductID string
	Variant   string
	Quantity  int
}

type PlaceOrderCommand struct {
	UserID     string
	Lines      []OrderLine
	CouponCode string
}

type OrderListFilter = repositories.OrderListFilter

// OrderReadOptions scopes a single-order read to the requesting caller.
type OrderReadOptions struct {
	RequestingUserID string
	AllowAnyUser     bool
}

type OrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

type CreateCheckoutSessionCommand struct {
	UserID     string
	Lines      []OrderLine
	CouponCode string
	SuccessURL string
	CancelURL  string
	Locale     string
}

// CheckoutSession is returned to the client so it can redirect to the hosted payment page.
type CheckoutSession struct {
	SessionID   string
	OrderID     string
	Provider    string
	RedirectURL string
	Amount      int64
	Currency    string
	ExpiresAt   time.Time
}

type ConfirmCheckoutCommand struct {
	UserID    string
	SessionID string
}

// CheckoutResult reports the order state after a settlement check.
type CheckoutResult struct {
	Order Order
	Paid  bool
}

// OrderPaymentDetails exposes gateway-side payment state for staff review.
type OrderPaymentDetails struct {
	OrderID  string
	Provider string
	IntentID string
	Status   string
	Amount   int64
	Currency string
	Captured bool
}

type ReconcileCommand struct {
	OlderThan time.Duration
	Limit     int
}

// ReconcileReport summarises one reconciliation sweep over stale gateway orders.
type ReconcileReport struct {
	Scanned      int
	Completed    int
	MarkedFailed int
	Skipped      int
}

type UpdatePaymentSettingsCommand struct {
	GatewayEnabled *bool
	CashEnabled    *bool
	GatewaySecret  *string
	ActorID        string
}

// OrderEventMessage is the payload published on order lifecycle transitions.
type OrderEventMessage struct {
	EventID     string
	EventType   string
	OrderID     string
	UserID      string
	Status      string
	TotalAmount int64
	CouponCode  string
	OccurredAt  time.Time
}
