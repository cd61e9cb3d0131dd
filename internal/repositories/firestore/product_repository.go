package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog snapshots used when freezing order lines.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &ProductRepository{base: base}, nil
}

// FindByID fetches a single product snapshot.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data), nil
}

// FindByIDs fetches multiple products keyed by ID. Missing products are simply
// absent from the result so callers can report which references were invalid.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	result := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, raw := range productIDs {
		productID := strings.TrimSpace(raw)
		if productID == "" {
			continue
		}
		if _, ok := seen[productID]; ok {
			continue
		}
		seen[productID] = struct{}{}

		product, err := r.FindByID(ctx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		result[productID] = product
	}
	return result, nil
}

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	ImageURLs []string  `firestore:"imageUrls,omitempty"`
	Stock     int       `firestore:"stock"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func decodeProductDocument(id string, doc productDocument) domain.Product {
	images := make([]string, 0, len(doc.ImageURLs))
	for _, url := range doc.ImageURLs {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			images = append(images, trimmed)
		}
	}
	return domain.Product{
		ID:        strings.TrimSpace(id),
		Name:      strings.TrimSpace(doc.Name),
		Price:     doc.Price,
		ImageURLs: images,
		Stock:     doc.Stock,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
