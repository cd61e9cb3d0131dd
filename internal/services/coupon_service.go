package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/textutil"
	"github.com/pawmart/api/internal/repositories"
)

const activeCouponFetchLimit = 100

var (
	// ErrCouponInvalidInput signals the caller provided invalid coupon data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no usable coupon matches the supplied code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponNotStarted indicates the coupon window has not opened yet.
	ErrCouponNotStarted = errors.New("coupon: not started")
	// ErrCouponExpired indicates the coupon window has closed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponCodeTaken indicates another coupon already uses the requested code.
	ErrCouponCodeTaken = errors.New("coupon: code already exists")
	// ErrCouponUnavailable indicates coupon storage is currently unreachable.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate checks a coupon code against its activation window and deactivates lapsed coupons.
// The lazy-expiry write happens here only; pricing code uses ActiveCoupon instead.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	coupon, err := s.ActiveCoupon(ctx, cmd.Code)
	if err != nil {
		if errors.Is(err, ErrCouponExpired) {
			code := textutil.NormalizeCode(cmd.Code)
			if _, deactivateErr := s.coupons.Deactivate(ctx, code, s.clock()); deactivateErr != nil {
				s.logger(ctx, "coupon.lazy_expiry_failed", map[string]any{
					"code":  code,
					"error": deactivateErr.Error(),
				})
			}
		}
		return CouponValidation{}, err
	}

	return CouponValidation{
		Code:       coupon.Code,
		Discount:   coupon.Discount,
		ExpiryDate: coupon.ExpiryDate.UTC(),
	}, nil
}

// ActiveCoupon looks up a coupon and checks its usability window without side
// effects, so callers pricing an order never mutate coupon state.
func (s *couponService) ActiveCoupon(ctx context.Context, code string) (Coupon, error) {
	normalized := textutil.NormalizeCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, s.translateCouponError(err)
	}
	if !coupon.Active {
		return Coupon{}, ErrCouponNotFound
	}

	now := s.clock()
	if !coupon.StartDate.IsZero() && now.Before(coupon.StartDate) {
		return Coupon{}, ErrCouponNotStarted
	}
	if !coupon.ExpiryDate.IsZero() && now.After(coupon.ExpiryDate) {
		return Coupon{}, ErrCouponExpired
	}
	return coupon, nil
}

// ActiveCoupons lists coupons currently usable by shoppers.
func (s *couponService) ActiveCoupons(ctx context.Context) ([]Coupon, error) {
	page, err := s.coupons.List(ctx, CouponListFilter{
		ActiveOnly: true,
		Pagination: Pagination{PageSize: activeCouponFetchLimit},
	})
	if err != nil {
		return nil, s.translateCouponError(err)
	}

	now := s.clock()
	usable := make([]Coupon, 0, len(page.Items))
	for _, coupon := range page.Items {
		if coupon.UsableAt(now) {
			usable = append(usable, coupon)
		}
	}
	return usable, nil
}

// ListCoupons pages through all coupons for administrative views.
func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, s.translateCouponError(err)
	}
	return page, nil
}

// GetCoupon fetches a single coupon by identifier.
func (s *couponService) GetCoupon(ctx context.Context, couponID string) (Coupon, error) {
	id := strings.TrimSpace(couponID)
	if id == "" {
		return Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByID(ctx, id)
	if err != nil {
		return Coupon{}, s.translateCouponError(err)
	}
	return coupon, nil
}

// CreateCoupon registers a new coupon; the canonical code doubles as its identifier.
func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	code := textutil.NormalizeCode(cmd.Code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if err := validateCouponWindow(cmd.Discount, cmd.StartDate, cmd.ExpiryDate); err != nil {
		return Coupon{}, err
	}

	now := s.clock()
	coupon := Coupon{
		ID:         code,
		Code:       code,
		Discount:   cmd.Discount,
		StartDate:  cmd.StartDate.UTC(),
		ExpiryDate: cmd.ExpiryDate.UTC(),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.translateCouponError(err)
	}

	s.logger(ctx, "coupon.created", map[string]any{
		"code":     code,
		"discount": coupon.Discount,
		"actorId":  strings.TrimSpace(cmd.ActorID),
	})
	return coupon, nil
}

// UpdateCoupon applies partial changes to an existing coupon.
func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	id := strings.TrimSpace(cmd.CouponID)
	if id == "" {
		return Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByID(ctx, id)
	if err != nil {
		return Coupon{}, s.translateCouponError(err)
	}

	if cmd.Discount != 0 {
		coupon.Discount = cmd.Discount
	}
	if !cmd.StartDate.IsZero() {
		coupon.StartDate = cmd.StartDate.UTC()
	}
	if !cmd.ExpiryDate.IsZero() {
		coupon.ExpiryDate = cmd.ExpiryDate.UTC()
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}
	if err := validateCouponWindow(coupon.Discount, coupon.StartDate, coupon.ExpiryDate); err != nil {
		return Coupon{}, err
	}
	coupon.UpdatedAt = s.clock()

	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.translateCouponError(err)
	}
	return coupon, nil
}

// DeleteCoupon removes a coupon definition.
func (s *couponService) DeleteCoupon(ctx context.Context, couponID string) error {
	id := strings.TrimSpace(couponID)
	if id == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, id); err != nil {
		return s.translateCouponError(err)
	}
	return nil
}

// Redeem deactivates a coupon after it has been applied to a settled order.
func (s *couponService) Redeem(ctx context.Context, code string) (Coupon, error) {
	normalized := textutil.NormalizeCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.Deactivate(ctx, normalized, s.clock())
	if err != nil {
		return Coupon{}, s.translateCouponError(err)
	}
	s.logger(ctx, "coupon.redeemed", map[string]any{"code": normalized})
	return coupon, nil
}

func (s *couponService) translateCouponError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCouponNotFound
		case repoErr.IsConflict():
			return ErrCouponCodeTaken
		case repoErr.IsUnavailable():
			return ErrCouponUnavailable
		}
	}
	return err
}

func validateCouponWindow(discount int, start, expiry time.Time) error {
	if discount < 1 || discount > 100 {
		return fmt.Errorf("%w: discount must be between 1 and 100", ErrCouponInvalidInput)
	}
	if expiry.IsZero() {
		return fmt.Errorf("%w: expiry date is required", ErrCouponInvalidInput)
	}
	if !start.IsZero() && !expiry.After(start) {
		return fmt.Errorf("%w: expiry date must be after start date", ErrCouponInvalidInput)
	}
	return nil
}
