package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderRequestBody  = 64 * 1024
)

// OrderHandlers exposes checkout and order management endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: checkout,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/checkout-session", h.createCheckoutSession)
	r.Post("/checkout-success", h.confirmCheckout)
	r.Post("/cod", h.placeCashOrder)
	r.Get("/my-orders", h.listMyOrders)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Get("/{orderID}/payment", h.paymentDetails)
}

// InternalRoutes registers the reconciliation trigger on the internal group.
func (h *OrderHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:reconcile", h.reconcileStale)
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items      []orderLineRequest `json:"items"`
	CouponCode string             `json:"coupon_code"`
}

type checkoutSessionRequest struct {
	Items      []orderLineRequest `json:"items"`
	CouponCode string             `json:"coupon_code"`
	SuccessURL string             `json:"success_url"`
	CancelURL  string             `json:"cancel_url"`
	Locale     string             `json:"locale"`
}

type checkoutSuccessRequest struct {
	SessionID string `json:"session_id"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type reconcileRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit"`
}

func (h *OrderHandlers) placeCashOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.PlaceCashOrder(ctx, services.PlaceOrderCommand{
		UserID:     identity.UID,
		Lines:      buildOrderLines(req.Items),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutSessionRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		UserID:     identity.UID,
		Lines:      buildOrderLines(req.Items),
		CouponCode: req.CouponCode,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Locale:     req.Locale,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{
		SessionID:   session.SessionID,
		OrderID:     session.OrderID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		Amount:      session.Amount,
		Currency:    strings.ToUpper(session.Currency),
		ExpiresAt:   formatTime(session.ExpiresAt),
	})
}

func (h *OrderHandlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutSuccessRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}

	result, err := h.checkout.ConfirmCheckout(ctx, services.ConfirmCheckoutCommand{
		UserID:    identity.UID,
		SessionID: sessionID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !result.Paid {
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", "payment was not completed; the order has been marked as failed", http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pager, ok := parseOrderPagination(ctx, w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListUserOrders(ctx, identity.UID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireAdmin(ctx, w)
	if !ok {
		return
	}
	_ = identity

	pager, ok := parseOrderPagination(ctx, w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, ok := parseStatusFilters(ctx, w, query["status"])
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     statuses,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{
		RequestingUserID: identity.UID,
		AllowAnyUser:     identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireAdmin(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.IsValid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID: orderID,
		Status:  status,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireAdmin(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) paymentDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireAdmin(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	details, err := h.checkout.PaymentDetails(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderPaymentResponse{
		OrderID:  details.OrderID,
		Provider: details.Provider,
		IntentID: details.IntentID,
		Status:   details.Status,
		Amount:   details.Amount,
		Currency: strings.ToUpper(details.Currency),
		Captured: details.Captured,
	})
}

func (h *OrderHandlers) reconcileStale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reconcileRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	report, err := h.checkout.ReconcileStale(ctx, services.ReconcileCommand{
		OlderThan: time.Duration(req.OlderThanMinutes) * time.Minute,
		Limit:     req.Limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		Scanned:      report.Scanned,
		Completed:    report.Completed,
		MarkedFailed: report.MarkedFailed,
		Skipped:      report.Skipped,
	})
}

// Payloads -------------------------------------------------------------------

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Status      string              `json:"status"`
	TotalAmount int64               `json:"total_amount"`
	CouponCode  string              `json:"coupon_code,omitempty"`
	Items       []orderItemPayload  `json:"items"`
	Payment     orderPaymentMethod  `json:"payment"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderPaymentMethod struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

type checkoutSessionResponse struct {
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider,omitempty"`
	RedirectURL string `json:"redirect_url"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type orderPaymentResponse struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider,omitempty"`
	IntentID string `json:"intent_id,omitempty"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Captured bool   `json:"captured"`
}

type reconcileResponse struct {
	Scanned      int `json:"scanned"`
	Completed    int `json:"completed"`
	MarkedFailed int `json:"marked_failed"`
	Skipped      int `json:"skipped"`
}

func buildOrderLines(items []orderLineRequest) []services.OrderLine {
	lines := make([]services.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, services.OrderLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Variant:   strings.TrimSpace(item.Variant),
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		CouponCode:  strings.TrimSpace(order.CouponCode),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.LineTotal(),
		})
	}

	if order.Payment != nil {
		payload.Payment.Method = string(order.Payment.Kind())
		if sessionID, ok := domain.SessionID(order.Payment); ok {
			payload.Payment.SessionID = sessionID
		}
	}
	return payload
}

// Shared request plumbing ----------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requireAdmin(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "administrator role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parseOrderPagination(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.Pagination, bool) {
	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	return services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, true
}

func parseStatusFilters(ctx context.Context, w http.ResponseWriter, raw []string) ([]domain.OrderStatus, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := domain.OrderStatus(part)
			if !status.IsValid() {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter must contain valid order statuses", http.StatusBadRequest))
				return nil, false
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, true
}

// Error translation ----------------------------------------------------------

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMethodDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_disabled", "the requested payment method is not available", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotStarted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_started", "coupon is not active yet", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you are not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "failed to create the payment session", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCheckoutUnavailable),
		errors.Is(err, services.ErrCouponUnavailable),
		errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is currently unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
