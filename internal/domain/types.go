package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was accepted but payment or fulfilment has not started.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates fulfilment is being prepared (cash orders).
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted indicates payment was confirmed or delivery finished.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates an administrator cancelled the order.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaymentFailed indicates the gateway reported the payment as not completed.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// IsValid reports whether the status is one of the enumerated lifecycle states.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// PaymentMethodKind tags the two supported settlement paths.
type PaymentMethodKind string

const (
	// PaymentMethodGateway routes payment through the hosted checkout gateway.
	PaymentMethodGateway PaymentMethodKind = "gateway"
	// PaymentMethodCash settles payment on delivery, outside the gateway.
	PaymentMethodCash PaymentMethodKind = "cod"
)

// PaymentMethod is a closed union over the settlement paths. A gateway payment
// carries the external session identifier; a cash payment carries nothing.
// The union replaces string-tag branching so each case states its own fields.
type PaymentMethod interface {
	Kind() PaymentMethodKind
	sealed()
}

// GatewayPayment identifies a hosted checkout session at the external gateway.
type GatewayPayment struct {
	SessionID string
}

// Kind implements PaymentMethod.
func (GatewayPayment) Kind() PaymentMethodKind { return PaymentMethodGateway }

func (GatewayPayment) sealed() {}

// CashOnDelivery marks a payment settled offline at delivery time.
type CashOnDelivery struct{}

// Kind implements PaymentMethod.
func (CashOnDelivery) Kind() PaymentMethodKind { return PaymentMethodCash }

func (CashOnDelivery) sealed() {}

// SessionID extracts the gateway session identifier when the method carries one.
func SessionID(method PaymentMethod) (string, bool) {
	gateway, ok := method.(GatewayPayment)
	if !ok {
		return "", false
	}
	return gateway.SessionID, true
}

// OrderItem is a single product line frozen into an order at creation time.
// UnitPrice is a snapshot in the smallest currency unit, not a live reference
// to the catalog price.
type OrderItem struct {
	ProductID string
	Variant   string
	Quantity  int
	UnitPrice int64
}

// LineTotal returns quantity times the frozen unit price.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order represents one purchase attempt owned by a user.
type Order struct {
	ID          string
	UserID      string
	Status      OrderStatus
	TotalAmount int64
	CouponCode  string
	Items       []OrderItem
	Payment     PaymentMethod
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subtotal sums the frozen line totals before any discount.
func (o Order) Subtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}

// Coupon represents a percentage discount code with a validity window.
type Coupon struct {
	ID         string
	Code       string
	Discount   int
	StartDate  time.Time
	ExpiryDate time.Time
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UsableAt reports whether the coupon may be redeemed at the given instant.
// The dates are checked independently of the active flag; a coupon past its
// expiry is unusable even when the flag was never flipped.
func (c Coupon) UsableAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if now.Before(c.StartDate) {
		return false
	}
	if now.After(c.ExpiryDate) {
		return false
	}
	return true
}

// DiscountAmount applies the coupon percentage to the subtotal, rounding to
// the nearest smallest currency unit. Amounts never go negative.
func (c Coupon) DiscountAmount(subtotal int64) int64 {
	if subtotal <= 0 || c.Discount <= 0 {
		return 0
	}
	discount := (subtotal*int64(c.Discount) + 50) / 100
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// PaymentSettings is the process-wide settings record gating payment methods.
// A single document exists under a well-known identifier and is created lazily
// with defaults on first read.
type PaymentSettings struct {
	GatewayEnabled bool
	GatewaySecret  string
	CashEnabled    bool
	UpdatedAt      time.Time
}

// DefaultPaymentSettings returns the settings written when no record exists:
// cash on delivery enabled, gateway disabled until configured.
func DefaultPaymentSettings() PaymentSettings {
	return PaymentSettings{
		GatewayEnabled: false,
		CashEnabled:    true,
	}
}

// HealthStatus classifies the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck captures a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks for readiness reporting.
type SystemHealthReport struct {
	Status      HealthStatus
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// Product is the read-only catalog snapshot consumed at order time.
type Product struct {
	ID        string
	Name      string
	Price     int64
	ImageURLs []string
	Stock     int
}

// PrimaryImage returns the first catalog image or empty when none exist.
func (p Product) PrimaryImage() string {
	if len(p.ImageURLs) == 0 {
		return ""
	}
	return p.ImageURLs[0]
}
