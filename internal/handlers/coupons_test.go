package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/services"
)

type stubCouponService struct {
	validateFn  func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error)
	activeOneFn func(context.Context, string) (services.Coupon, error)
	activeFn    func(context.Context) ([]services.Coupon, error)
	listFn      func(context.Context, services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
	getFn       func(context.Context, string) (services.Coupon, error)
	createFn    func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	updateFn    func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	deleteFn    func(context.Context, string) error
	redeemFn    func(context.Context, string) (services.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.CouponValidation{}, errors.New("not implemented")
}

func (s *stubCouponService) ActiveCoupon(ctx context.Context, code string) (services.Coupon, error) {
	if s.activeOneFn != nil {
		return s.activeOneFn(ctx, code)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) ActiveCoupons(ctx context.Context) ([]services.Coupon, error) {
	if s.activeFn != nil {
		return s.activeFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Coupon]{}, nil
}

func (s *stubCouponService) GetCoupon(ctx context.Context, couponID string) (services.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, couponID)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) DeleteCoupon(ctx context.Context, couponID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, couponID)
	}
	return errors.New("not implemented")
}

func (s *stubCouponService) Redeem(ctx context.Context, code string) (services.Coupon, error) {
	if s.redeemFn != nil {
		return s.redeemFn(ctx, code)
	}
	return services.Coupon{}, errors.New("not implemented")
}

func newCouponRouter(coupons services.CouponService) chi.Router {
	handler := NewCouponHandlers(nil, coupons)
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)
	return router
}

func TestCouponHandlersValidate(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var captured services.ValidateCouponCommand
	coupons := &stubCouponService{
		validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
			captured = cmd
			return services.CouponValidation{Code: "SALE50", Discount: 50, ExpiryDate: expiry}, nil
		},
	}
	router := newCouponRouter(coupons)

	body := bytes.NewReader([]byte(`{"code":"sale50"}`))
	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "sale50" || captured.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp couponValidationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Code != "SALE50" || resp.Discount != 50 {
		t.Fatalf("unexpected validation payload %+v", resp)
	}
	if resp.ExpiryDate != "2025-06-01T00:00:00Z" {
		t.Fatalf("unexpected expiry %q", resp.ExpiryDate)
	}
}

func TestCouponHandlersValidateRateLimited(t *testing.T) {
	coupons := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error) {
			return services.CouponValidation{Code: "SALE50", Discount: 50}, nil
		},
	}
	handler := NewCouponHandlers(nil, coupons, WithValidationRateLimit(2, time.Minute))
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/coupons/validate", bytes.NewReader([]byte(`{"code":"SALE50"}`)))
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		statuses = append(statuses, rr.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be throttled, got %v", statuses)
	}
}

func TestCouponHandlersValidateExpired(t *testing.T) {
	coupons := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponExpired
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", bytes.NewReader([]byte(`{"code":"OLD"}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateNotFound(t *testing.T) {
	coupons := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponNotFound
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", bytes.NewReader([]byte(`{"code":"NOPE"}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCouponHandlersActiveIsPublic(t *testing.T) {
	coupons := &stubCouponService{
		activeFn: func(context.Context) ([]services.Coupon, error) {
			return []services.Coupon{
				{ID: "SALE50", Code: "SALE50", Discount: 50, Active: true},
			}, nil
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodGet, "/coupons/active", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp couponListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Code != "SALE50" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestCouponHandlersCreate(t *testing.T) {
	var captured services.UpsertCouponCommand
	coupons := &stubCouponService{
		createFn: func(_ context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			captured = cmd
			return services.Coupon{ID: "SALE50", Code: "SALE50", Discount: cmd.Discount, Active: true}, nil
		},
	}
	router := newCouponRouter(coupons)

	body := []byte(`{"code":"sale50","discount":50,"start_date":"2025-05-01T00:00:00Z","expiry_date":"2025-06-01T00:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/coupons/", bytes.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "sale50" || captured.Discount != 50 || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.StartDate.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date %v", captured.StartDate)
	}
	if !captured.ExpiryDate.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry date %v", captured.ExpiryDate)
	}
}

func TestCouponHandlersCreateDuplicate(t *testing.T) {
	coupons := &stubCouponService{
		createFn: func(context.Context, services.UpsertCouponCommand) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponCodeTaken
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/coupons/", bytes.NewReader([]byte(`{"code":"dup","discount":10,"expiry_date":"2025-06-01T00:00:00Z"}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr.Body.Bytes()); code != "coupon_code_taken" {
		t.Fatalf("expected coupon_code_taken error code, got %q", code)
	}
}

func TestCouponHandlersCreateRequiresAdmin(t *testing.T) {
	router := newCouponRouter(&stubCouponService{})

	req := httptest.NewRequest(http.MethodPost, "/coupons/", bytes.NewReader([]byte(`{"code":"x","discount":5}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestCouponHandlersUpdate(t *testing.T) {
	var captured services.UpsertCouponCommand
	coupons := &stubCouponService{
		updateFn: func(_ context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			captured = cmd
			return services.Coupon{ID: cmd.CouponID, Code: "SALE50", Discount: 25}, nil
		},
	}
	router := newCouponRouter(coupons)

	active := `{"discount":25,"active":false}`
	req := httptest.NewRequest(http.MethodPut, "/coupons/SALE50", bytes.NewReader([]byte(active)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CouponID != "SALE50" || captured.Discount != 25 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Active == nil || *captured.Active {
		t.Fatalf("expected active=false pointer, got %v", captured.Active)
	}
}

func TestCouponHandlersGetNotFound(t *testing.T) {
	coupons := &stubCouponService{
		getFn: func(context.Context, string) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponNotFound
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodGet, "/coupons/NOPE", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCouponHandlersDelete(t *testing.T) {
	var deleted string
	coupons := &stubCouponService{
		deleteFn: func(_ context.Context, couponID string) error {
			deleted = couponID
			return nil
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodDelete, "/coupons/SALE50", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "SALE50" {
		t.Fatalf("expected SALE50 deleted, got %q", deleted)
	}
}

func TestCouponHandlersListPassesFilter(t *testing.T) {
	var captured services.CouponListFilter
	coupons := &stubCouponService{
		listFn: func(_ context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
			captured = filter
			return domain.CursorPage[services.Coupon]{NextPageToken: "tok"}, nil
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodGet, "/coupons/?active=true&page_size=5&page_token=abc", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.ActiveOnly || captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "abc" {
		t.Fatalf("unexpected filter %+v", captured)
	}
}
