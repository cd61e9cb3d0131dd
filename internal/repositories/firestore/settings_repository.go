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

const (
	settingsCollection = "settings"
	paymentSettingsDoc = "payments"
)

// SettingsRepository stores the singleton payment settings document.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[paymentSettingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[paymentSettingsDocument](provider, settingsCollection)
	return &SettingsRepository{base: base}, nil
}

// Get loads the payment settings document. A not-found repository error is
// returned when no settings were ever written; the service seeds defaults.
func (r *SettingsRepository) Get(ctx context.Context) (domain.PaymentSettings, error) {
	if r == nil || r.base == nil {
		return domain.PaymentSettings{}, errors.New("settings repository not initialised")
	}
	doc, err := r.base.Get(ctx, paymentSettingsDoc)
	if err != nil {
		return domain.PaymentSettings{}, err
	}
	return decodePaymentSettings(doc.Data, doc.UpdateTime), nil
}

// Save upserts the payment settings document.
func (r *SettingsRepository) Save(ctx context.Context, settings domain.PaymentSettings) (domain.PaymentSettings, error) {
	if r == nil || r.base == nil {
		return domain.PaymentSettings{}, errors.New("settings repository not initialised")
	}
	doc := encodePaymentSettings(settings)
	result, err := r.base.Set(ctx, paymentSettingsDoc, doc)
	if err != nil {
		return domain.PaymentSettings{}, err
	}
	saved := settings
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

type paymentSettingsDocument struct {
	GatewayEnabled bool      `firestore:"gatewayEnabled"`
	GatewaySecret  string    `firestore:"gatewaySecret,omitempty"`
	CashEnabled    bool      `firestore:"cashEnabled"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func encodePaymentSettings(settings domain.PaymentSettings) paymentSettingsDocument {
	return paymentSettingsDocument{
		GatewayEnabled: settings.GatewayEnabled,
		GatewaySecret:  strings.TrimSpace(settings.GatewaySecret),
		CashEnabled:    settings.CashEnabled,
		UpdatedAt:      settings.UpdatedAt.UTC(),
	}
}

func decodePaymentSettings(doc paymentSettingsDocument, updatedAt time.Time) domain.PaymentSettings {
	return domain.PaymentSettings{
		GatewayEnabled: doc.GatewayEnabled,
		GatewaySecret:  strings.TrimSpace(doc.GatewaySecret),
		CashEnabled:    doc.CashEnabled,
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)
