package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

var (
	// ErrSettingsInvalidInput signals the caller provided invalid settings data.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable indicates settings storage is currently unreachable.
	ErrSettingsUnavailable = errors.New("settings: unavailable")
)

// SettingsServiceDeps bundles collaborators required to construct the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	settings repositories.SettingsRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewSettingsService wires dependencies into a concrete SettingsService implementation.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: settings repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &settingsService{
		settings: deps.Settings,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// PaymentSettings returns the stored payment toggles, seeding defaults on first read.
func (s *settingsService) PaymentSettings(ctx context.Context) (PaymentSettings, error) {
	settings, err := s.settings.Get(ctx)
	if err == nil {
		return settings, nil
	}

	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return PaymentSettings{}, s.translateSettingsError(err)
	}

	defaults := domain.DefaultPaymentSettings()
	defaults.UpdatedAt = s.clock()
	seeded, saveErr := s.settings.Save(ctx, defaults)
	if saveErr != nil {
		// A concurrent request may have seeded first; prefer the stored document.
		if stored, getErr := s.settings.Get(ctx); getErr == nil {
			return stored, nil
		}
		return PaymentSettings{}, s.translateSettingsError(saveErr)
	}

	s.logger(ctx, "settings.payment_defaults_seeded", map[string]any{
		"cashEnabled":    seeded.CashEnabled,
		"gatewayEnabled": seeded.GatewayEnabled,
	})
	return seeded, nil
}

// UpdatePaymentSettings applies partial toggle changes and persists the result.
func (s *settingsService) UpdatePaymentSettings(ctx context.Context, cmd UpdatePaymentSettingsCommand) (PaymentSettings, error) {
	if cmd.GatewayEnabled == nil && cmd.CashEnabled == nil && cmd.GatewaySecret == nil {
		return PaymentSettings{}, fmt.Errorf("%w: no changes supplied", ErrSettingsInvalidInput)
	}

	settings, err := s.PaymentSettings(ctx)
	if err != nil {
		return PaymentSettings{}, err
	}

	if cmd.GatewayEnabled != nil {
		settings.GatewayEnabled = *cmd.GatewayEnabled
	}
	if cmd.CashEnabled != nil {
		settings.CashEnabled = *cmd.CashEnabled
	}
	if cmd.GatewaySecret != nil {
		settings.GatewaySecret = strings.TrimSpace(*cmd.GatewaySecret)
	}
	settings.UpdatedAt = s.clock()

	saved, err := s.settings.Save(ctx, settings)
	if err != nil {
		return PaymentSettings{}, s.translateSettingsError(err)
	}

	// The secret value itself stays out of the log stream.
	s.logger(ctx, "settings.payment_updated", map[string]any{
		"cashEnabled":      saved.CashEnabled,
		"gatewayEnabled":   saved.GatewayEnabled,
		"gatewaySecretSet": cmd.GatewaySecret != nil,
		"actorId":          strings.TrimSpace(cmd.ActorID),
	})
	return saved, nil
}

func (s *settingsService) translateSettingsError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return ErrSettingsUnavailable
	}
	return err
}
