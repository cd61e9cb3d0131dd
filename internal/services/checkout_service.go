package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/payments"
	"github.com/pawmart/api/internal/repositories"
)

const (
	defaultReconcileMaxAge = 24 * time.Hour
	defaultReconcileLimit  = 50

	sessionStateExpired = "expired"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the gateway session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutSessionNotFound indicates no order matches the supplied session.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
)

// checkoutGateway abstracts payments.Manager for easier testing.
type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SessionLookupRequest) (payments.SessionStatus, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Coupons     CouponService
	Settings    SettingsService
	Gateway     checkoutGateway
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	// Currency is the smallest-unit currency code used for gateway sessions.
	Currency string
	// SuccessURL and CancelURL are the storefront redirect targets.
	SuccessURL string
	CancelURL  string
}

type checkoutService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	coupons  CouponService
	settings SettingsService
	gateway  checkoutGateway
	events   OrderEventPublisher
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)

	currency   string
	successURL string
	cancelURL  string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("checkout service: settings service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
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

	return &checkoutService{
		orders:   deps.Orders,
		products: deps.Products,
		coupons:  deps.Coupons,
		settings: deps.Settings,
		gateway:  deps.Gateway,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		logger:     logger,
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
	}, nil
}

// CreateCheckoutSession prices the requested lines, opens a hosted gateway
// session, and records the pending order carrying the session reference.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	successURL := firstNonEmptyString(strings.TrimSpace(cmd.SuccessURL), s.successURL)
	cancelURL := firstNonEmptyString(strings.TrimSpace(cmd.CancelURL), s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: redirect urls are required", ErrCheckoutInvalidInput)
	}

	paymentSettings, err := s.settings.PaymentSettings(ctx)
	if err != nil {
		return CheckoutSession{}, err
	}
	if !paymentSettings.GatewayEnabled {
		return CheckoutSession{}, ErrPaymentMethodDisabled
	}

	draft, err := buildOrderDraft(ctx, s.products, s.coupons, cmd.Lines, cmd.CouponCode, s.logger)
	if err != nil {
		return CheckoutSession{}, err
	}

	metadata, err := checkoutMetadata(userID, draft)
	if err != nil {
		return CheckoutSession{}, err
	}

	req := payments.CheckoutSessionRequest{
		Amount:          draft.total,
		Currency:        s.currency,
		SuccessURL:      successURL,
		CancelURL:       cancelURL,
		Locale:          strings.TrimSpace(cmd.Locale),
		Metadata:        metadata,
		IdempotencyKey:  s.sessionIdempotencyKey(userID, draft),
		Items:           buildGatewayLineItems(draft, s.currency),
		DiscountPercent: draft.percent,
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, ErrCheckoutInvalidInput
		}
		s.logger(ctx, "checkout.session_create_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutPaymentFailed
	}

	now := s.now()
	order := Order{
		ID:          s.newID(),
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		TotalAmount: draft.total,
		CouponCode:  draft.couponCode,
		Items:       draft.items,
		Payment:     domain.GatewayPayment{SessionID: session.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		// The hosted session stays live but no order will ever reference it.
		s.logger(ctx, "checkout.order_persist_failed", map[string]any{
			"userId":    userID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
		return CheckoutSession{}, translateOrderRepoError(err)
	}

	s.publishCheckoutEvent(ctx, orderEventCreated, order)

	return CheckoutSession{
		SessionID:   session.ID,
		OrderID:     order.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		Amount:      draft.total,
		Currency:    s.currency,
		ExpiresAt:   session.ExpiresAt.UTC(),
	}, nil
}

// ConfirmCheckout resolves the settlement state of a session when the shopper
// returns from the hosted payment page. A paid session completes the order and
// burns its coupon; an unpaid one marks the order as failed.
func (s *checkoutService) ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (CheckoutResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: session id is required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindBySessionID(ctx, sessionID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CheckoutResult{}, ErrCheckoutSessionNotFound
		}
		return CheckoutResult{}, translateOrderRepoError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && !strings.EqualFold(order.UserID, userID) {
		return CheckoutResult{}, ErrCheckoutSessionNotFound
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		return CheckoutResult{Order: order, Paid: true}, nil
	case domain.OrderStatusPaymentFailed:
		return CheckoutResult{Order: order, Paid: false}, nil
	}

	status, err := s.gateway.GetCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, payments.SessionLookupRequest{SessionID: sessionID})
	if err != nil {
		s.logger(ctx, "checkout.session_lookup_failed", map[string]any{
			"orderId":   order.ID,
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	settled, err := s.settleOrder(ctx, order, status.Paid)
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Order: settled, Paid: status.Paid}, nil
}

// PaymentDetails surfaces gateway-side payment state for a single order.
func (s *checkoutService) PaymentDetails(ctx context.Context, orderID string) (OrderPaymentDetails, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return OrderPaymentDetails{}, fmt.Errorf("%w: order id is required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return OrderPaymentDetails{}, translateOrderRepoError(err)
	}
	sessionID, ok := domain.SessionID(order.Payment)
	if !ok {
		return OrderPaymentDetails{}, fmt.Errorf("%w: order has no gateway session", ErrCheckoutInvalidInput)
	}

	paymentCtx := payments.PaymentContext{Currency: s.currency}
	status, err := s.gateway.GetCheckoutSession(ctx, paymentCtx, payments.SessionLookupRequest{SessionID: sessionID})
	if err != nil {
		return OrderPaymentDetails{}, ErrCheckoutUnavailable
	}

	details := OrderPaymentDetails{
		OrderID:  order.ID,
		Provider: status.Provider,
		IntentID: status.IntentID,
		Status:   status.State,
		Amount:   status.AmountTotal,
		Currency: status.Currency,
		Captured: status.Paid,
	}
	if status.IntentID != "" {
		if payment, err := s.gateway.LookupPayment(ctx, paymentCtx, payments.LookupRequest{IntentID: status.IntentID}); err == nil {
			details.Status = string(payment.Status)
			details.Amount = payment.Amount
			details.Currency = payment.Currency
			details.Captured = payment.Captured
		}
	}
	return details, nil
}

// ReconcileStale sweeps pending gateway orders whose sessions were never
// confirmed by the shopper and settles them from the gateway's records.
func (s *checkoutService) ReconcileStale(ctx context.Context, cmd ReconcileCommand) (ReconcileReport, error) {
	olderThan := cmd.OlderThan
	if olderThan <= 0 {
		olderThan = defaultReconcileMaxAge
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	cutoff := s.now().Add(-olderThan)
	stale, err := s.orders.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return ReconcileReport{}, translateOrderRepoError(err)
	}

	report := ReconcileReport{Scanned: len(stale)}
	for _, order := range stale {
		sessionID, ok := domain.SessionID(order.Payment)
		if !ok {
			report.Skipped++
			continue
		}

		status, err := s.gateway.GetCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, payments.SessionLookupRequest{SessionID: sessionID})
		if err != nil {
			s.logger(ctx, "checkout.reconcile_lookup_failed", map[string]any{
				"orderId":   order.ID,
				"sessionId": sessionID,
				"error":     err.Error(),
			})
			report.Skipped++
			continue
		}

		switch {
		case status.Paid:
			if _, err := s.settleOrder(ctx, order, true); err != nil {
				s.logger(ctx, "checkout.reconcile_settle_failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
				report.Skipped++
				continue
			}
			report.Completed++
		case strings.EqualFold(status.State, sessionStateExpired):
			if _, err := s.settleOrder(ctx, order, false); err != nil {
				s.logger(ctx, "checkout.reconcile_settle_failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
				report.Skipped++
				continue
			}
			report.MarkedFailed++
		default:
			// Session is still open; the shopper may yet pay.
			report.Skipped++
		}
	}

	s.logger(ctx, "checkout.reconcile_completed", map[string]any{
		"scanned":      report.Scanned,
		"completed":    report.Completed,
		"markedFailed": report.MarkedFailed,
		"skipped":      report.Skipped,
	})
	return report, nil
}

func (s *checkoutService) settleOrder(ctx context.Context, order Order, paid bool) (Order, error) {
	if paid {
		order.Status = domain.OrderStatusCompleted
	} else {
		order.Status = domain.OrderStatusPaymentFailed
	}
	order.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, translateOrderRepoError(err)
	}

	if paid {
		if order.CouponCode != "" {
			if _, err := s.coupons.Redeem(ctx, order.CouponCode); err != nil {
				s.logger(ctx, "checkout.coupon_redeem_failed", map[string]any{
					"orderId": order.ID,
					"code":    order.CouponCode,
					"error":   err.Error(),
				})
			}
		}
		s.publishCheckoutEvent(ctx, orderEventCompleted, order)
	} else {
		s.publishCheckoutEvent(ctx, orderEventPaymentFailed, order)
	}
	return order, nil
}

func (s *checkoutService) publishCheckoutEvent(ctx context.Context, eventType string, order Order) {
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
		OccurredAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) sessionIdempotencyKey(userID string, draft orderDraft) string {
	parts := make([]string, 0, len(draft.items)+3)
	parts = append(parts, userID, draft.couponCode, fmt.Sprintf("%d", draft.total))
	for _, item := range draft.items {
		parts = append(parts, fmt.Sprintf("%s:%s:%d:%d", item.ProductID, item.Variant, item.Quantity, item.UnitPrice))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// checkoutMetadata mirrors the order contents onto the gateway session so the
// settlement can be audited without touching our own storage.
func checkoutMetadata(userID string, draft orderDraft) (map[string]string, error) {
	type productLine struct {
		ProductID string `json:"productId"`
		Variant   string `json:"variant,omitempty"`
		Quantity  int    `json:"quantity"`
		UnitPrice int64  `json:"unitPrice"`
	}
	lines := make([]productLine, 0, len(draft.items))
	for _, item := range draft.items {
		lines = append(lines, productLine{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("checkout: encode product metadata: %w", err)
	}

	metadata := map[string]string{
		"userId":        userID,
		"paymentMethod": string(domain.PaymentMethodGateway),
		"products":      string(encoded),
	}
	if draft.couponCode != "" {
		metadata["couponCode"] = draft.couponCode
	}
	return metadata, nil
}

func buildGatewayLineItems(draft orderDraft, currency string) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(draft.items))
	for _, item := range draft.items {
		name := item.ProductID
		imageURL := ""
		if product, ok := draft.products[item.ProductID]; ok {
			if trimmed := strings.TrimSpace(product.Name); trimmed != "" {
				name = trimmed
			}
			imageURL = product.PrimaryImage()
		}
		line := payments.CheckoutLineItem{
			Name:     name,
			ImageURL: imageURL,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: currency,
		}
		if item.Variant != "" {
			line.Description = item.Variant
		}
		items = append(items, line)
	}
	return items
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
