package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/services"
)

// PaymentSettingsHandlers exposes the payment method gate configuration.
type PaymentSettingsHandlers struct {
	authn    *auth.Authenticator
	settings services.SettingsService
}

// NewPaymentSettingsHandlers constructs a new PaymentSettingsHandlers instance.
func NewPaymentSettingsHandlers(authn *auth.Authenticator, settings services.SettingsService) *PaymentSettingsHandlers {
	return &PaymentSettingsHandlers{
		authn:    authn,
		settings: settings,
	}
}

// Routes registers the /payment-settings endpoints. The read side is public so
// the storefront can decide which payment buttons to show; updates are admin only.
func (h *PaymentSettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSettings)

	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		g.Put("/", h.updateSettings)
	})
}

type updatePaymentSettingsRequest struct {
	GatewayEnabled *bool   `json:"gateway_enabled"`
	CashEnabled    *bool   `json:"cash_enabled"`
	GatewaySecret  *string `json:"gateway_secret"`
}

// paymentSettingsPayload is the safe projection; the gateway secret never leaves the service.
type paymentSettingsPayload struct {
	GatewayEnabled bool   `json:"gateway_enabled"`
	CashEnabled    bool   `json:"cash_enabled"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func (h *PaymentSettingsHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	settings, err := h.settings.PaymentSettings(ctx)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPaymentSettingsPayload(settings))
}

func (h *PaymentSettingsHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireAdmin(ctx, w)
	if !ok {
		return
	}

	var req updatePaymentSettingsRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	settings, err := h.settings.UpdatePaymentSettings(ctx, services.UpdatePaymentSettingsCommand{
		GatewayEnabled: req.GatewayEnabled,
		CashEnabled:    req.CashEnabled,
		GatewaySecret:  req.GatewaySecret,
		ActorID:        identity.UID,
	})
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildPaymentSettingsPayload(settings))
}

func buildPaymentSettingsPayload(settings domain.PaymentSettings) paymentSettingsPayload {
	return paymentSettingsPayload{
		GatewayEnabled: settings.GatewayEnabled,
		CashEnabled:    settings.CashEnabled,
		UpdatedAt:      formatTime(settings.UpdatedAt),
	}
}

func writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSettingsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "settings storage is currently unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to process settings request", http.StatusInternalServerError))
	}
}
