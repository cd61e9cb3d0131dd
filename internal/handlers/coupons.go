package handlers

import (
	"context"
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
	defaultCouponPageSize = 20
	maxCouponPageSize     = 100
)

// CouponHandlers exposes coupon validation and administration endpoints.
type CouponHandlers struct {
	authn           *auth.Authenticator
	coupons         services.CouponService
	validateLimiter rateLimiter
}

// CouponHandlerOption customises optional handler behaviour.
type CouponHandlerOption func(*CouponHandlers)

// WithValidationRateLimit throttles coupon validation per caller to the given
// number of requests per window.
func WithValidationRateLimit(limit int, window time.Duration) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.validateLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponHandlerOption) *CouponHandlers {
	handlers := &CouponHandlers{
		authn:   authn,
		coupons: coupons,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes registers the /coupons endpoints. The active-coupon banner is public;
// validation requires a signed-in shopper and the CRUD surface an admin role.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/active", h.activeCoupons)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/validate", h.validateCoupon)
	})

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		g.Get("/", h.listCoupons)
		g.Post("/", h.createCoupon)
		g.Get("/{couponID}", h.getCoupon)
		g.Put("/{couponID}", h.updateCoupon)
		g.Delete("/{couponID}", h.deleteCoupon)
	})
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type upsertCouponRequest struct {
	Code       string `json:"code"`
	Discount   int    `json:"discount"`
	StartDate  string `json:"start_date"`
	ExpiryDate string `json:"expiry_date"`
	Active     *bool  `json:"active"`
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.validateLimiter != nil && !h.validateLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many validation attempts; retry later", http.StatusTooManyRequests))
		return
	}

	var req validateCouponRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	validation, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:   req.Code,
		UserID: identity.UID,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponValidationResponse{
		Code:       validation.Code,
		Discount:   validation.Discount,
		ExpiryDate: formatTime(validation.ExpiryDate),
	})
}

func (h *CouponHandlers) activeCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	coupons, err := h.coupons.ActiveCoupons(ctx)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	items := make([]couponPayload, 0, len(coupons))
	for _, coupon := range coupons {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{Items: items})
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireAdmin(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultCouponPageSize, maxCouponPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.ListCoupons(ctx, services.CouponListFilter{
		ActiveOnly: strings.EqualFold(strings.TrimSpace(query.Get("active")), "true"),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireAdmin(ctx, w); !ok {
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, couponID)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.saveCoupon(w, r, "")
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	h.saveCoupon(w, r, chi.URLParam(r, "couponID"))
}

func (h *CouponHandlers) saveCoupon(w http.ResponseWriter, r *http.Request, couponID string) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireAdmin(ctx, w)
	if !ok {
		return
	}

	var req upsertCouponRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.UpsertCouponCommand{
		CouponID: strings.TrimSpace(couponID),
		Code:     req.Code,
		Discount: req.Discount,
		Active:   req.Active,
		ActorID:  identity.UID,
	}
	if raw := strings.TrimSpace(req.StartDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.StartDate = ts
	}
	if raw := strings.TrimSpace(req.ExpiryDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiry_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ExpiryDate = ts
	}

	var coupon services.Coupon
	var err error
	if cmd.CouponID == "" {
		coupon, err = h.coupons.CreateCoupon(ctx, cmd)
	} else {
		coupon, err = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireAdmin(ctx, w); !ok {
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}

	if err := h.coupons.DeleteCoupon(ctx, couponID); err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type couponValidationResponse struct {
	Code       string `json:"code"`
	Discount   int    `json:"discount"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponPayload struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Discount   int    `json:"discount"`
	StartDate  string `json:"start_date,omitempty"`
	ExpiryDate string `json:"expiry_date"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:         strings.TrimSpace(coupon.ID),
		Code:       strings.TrimSpace(coupon.Code),
		Discount:   coupon.Discount,
		StartDate:  formatTime(coupon.StartDate),
		ExpiryDate: formatTime(coupon.ExpiryDate),
		Active:     coupon.Active,
		CreatedAt:  formatTime(coupon.CreatedAt),
		UpdatedAt:  formatTime(coupon.UpdatedAt),
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotStarted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_started", "coupon is not active yet", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_code_taken", "a coupon with this code already exists", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "coupon storage is currently unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}
