package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/platform/pagination"
	"github.com/pawmart/api/internal/repositories"
)

const couponsCollection = "coupons"

// CouponRepository persists coupon documents keyed by their canonical code,
// which makes code uniqueness a document-level guarantee.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection)
	return &CouponRepository{base: base}, nil
}

// Insert stores a new coupon. A conflict is returned when the code is taken.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code := couponDocID(coupon)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}
	docRef, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeCouponDocument(coupon)); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update replaces the persisted coupon state with the provided snapshot.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code := couponDocID(coupon)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}
	docRef, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeCouponDocument(coupon)); err != nil {
		return pfirestore.WrapError("coupons.update", err)
	}
	return nil
}

// Delete removes the coupon document permanently.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

// FindByID fetches a coupon by its document identifier.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon id is required")
	}
	doc, err := r.base.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCouponDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByCode fetches a coupon by its canonical code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return r.FindByID(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// Deactivate flips the active flag off for the supplied code. The update is a
// no-op for already inactive coupons, matching redeem semantics.
func (r *CouponRepository) Deactivate(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	updates := []firestore.Update{
		{Path: "isActive", Value: false},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, code, updates); err != nil {
		return domain.Coupon{}, err
	}
	return r.FindByID(ctx, code)
}

// List returns coupons ordered by code.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	startAfterID := ""
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCouponListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
		}
		startAfterID = decoded
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if startAfterID != "" {
			q = q.StartAfter(startAfterID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeCouponListToken(last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Coupon, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeCouponDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Coupon]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type couponDocument struct {
	Code       string    `firestore:"code"`
	Discount   int       `firestore:"discount"`
	StartDate  time.Time `firestore:"startDate"`
	ExpiryDate time.Time `firestore:"expiryDate"`
	Active     bool      `firestore:"isActive"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func couponDocID(coupon domain.Coupon) string {
	if id := strings.TrimSpace(coupon.ID); id != "" {
		return strings.ToUpper(id)
	}
	return strings.ToUpper(strings.TrimSpace(coupon.Code))
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:       strings.ToUpper(strings.TrimSpace(coupon.Code)),
		Discount:   coupon.Discount,
		StartDate:  coupon.StartDate.UTC(),
		ExpiryDate: coupon.ExpiryDate.UTC(),
		Active:     coupon.Active,
		CreatedAt:  coupon.CreatedAt.UTC(),
		UpdatedAt:  coupon.UpdatedAt.UTC(),
	}
}

func decodeCouponDocument(id string, doc couponDocument, createdAt, updatedAt time.Time) domain.Coupon {
	code := strings.ToUpper(strings.TrimSpace(doc.Code))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(id))
	}
	return domain.Coupon{
		ID:         strings.TrimSpace(id),
		Code:       code,
		Discount:   doc.Discount,
		StartDate:  doc.StartDate.UTC(),
		ExpiryDate: doc.ExpiryDate.UTC(),
		Active:     doc.Active,
		CreatedAt:  chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:  chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func encodeCouponListToken(docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docID}})
	if err != nil {
		return ""
	}
	return token
}

func decodeCouponListToken(token string) (string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return "", err
	}
	if len(cursor.StartAfter) != 1 {
		return "", errors.New("invalid token structure")
	}
	docID, ok := cursor.StartAfter[0].(string)
	if !ok || docID == "" {
		return "", errors.New("invalid token structure")
	}
	return docID, nil
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
