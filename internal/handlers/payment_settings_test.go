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

type stubSettingsService struct {
	getFn    func(context.Context) (services.PaymentSettings, error)
	updateFn func(context.Context, services.UpdatePaymentSettingsCommand) (services.PaymentSettings, error)
}

func (s *stubSettingsService) PaymentSettings(ctx context.Context) (services.PaymentSettings, error) {
	if s.getFn != nil {
		return s.getFn(ctx)
	}
	return services.PaymentSettings{}, errors.New("not implemented")
}

func (s *stubSettingsService) UpdatePaymentSettings(ctx context.Context, cmd services.UpdatePaymentSettingsCommand) (services.PaymentSettings, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.PaymentSettings{}, errors.New("not implemented")
}

func newSettingsRouter(settings services.SettingsService) chi.Router {
	handler := NewPaymentSettingsHandlers(nil, settings)
	router := chi.NewRouter()
	router.Route("/payment-settings", handler.Routes)
	return router
}

func TestPaymentSettingsHandlersGetIsPublic(t *testing.T) {
	updated := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	settings := &stubSettingsService{
		getFn: func(context.Context) (services.PaymentSettings, error) {
			return domain.PaymentSettings{
				GatewayEnabled: true,
				GatewaySecret:  "sk_live_secret",
				CashEnabled:    false,
				UpdatedAt:      updated,
			}, nil
		},
	}
	router := newSettingsRouter(settings)

	req := httptest.NewRequest(http.MethodGet, "/payment-settings/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["gateway_enabled"] != true || body["cash_enabled"] != false {
		t.Fatalf("unexpected payload %v", body)
	}
	if _, leaked := body["gateway_secret"]; leaked {
		t.Fatalf("gateway secret must not be exposed: %v", body)
	}
	if raw, _ := json.Marshal(body); bytes.Contains(raw, []byte("sk_live_secret")) {
		t.Fatalf("secret value leaked into response: %s", raw)
	}
}

func TestPaymentSettingsHandlersUpdate(t *testing.T) {
	var captured services.UpdatePaymentSettingsCommand
	settings := &stubSettingsService{
		updateFn: func(_ context.Context, cmd services.UpdatePaymentSettingsCommand) (services.PaymentSettings, error) {
			captured = cmd
			return domain.PaymentSettings{GatewayEnabled: true, CashEnabled: true}, nil
		},
	}
	router := newSettingsRouter(settings)

	req := httptest.NewRequest(http.MethodPut, "/payment-settings/", bytes.NewReader([]byte(`{"gateway_enabled":true}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.GatewayEnabled == nil || !*captured.GatewayEnabled {
		t.Fatalf("expected gateway_enabled=true pointer, got %v", captured.GatewayEnabled)
	}
	if captured.CashEnabled != nil {
		t.Fatalf("expected cash_enabled untouched, got %v", captured.CashEnabled)
	}
	if captured.ActorID != "admin-1" {
		t.Fatalf("expected actor admin-1, got %q", captured.ActorID)
	}
}

func TestPaymentSettingsHandlersUpdateGatewaySecret(t *testing.T) {
	var captured services.UpdatePaymentSettingsCommand
	settings := &stubSettingsService{
		updateFn: func(_ context.Context, cmd services.UpdatePaymentSettingsCommand) (services.PaymentSettings, error) {
			captured = cmd
			return domain.PaymentSettings{GatewayEnabled: true, GatewaySecret: "sk_live_rotated"}, nil
		},
	}
	router := newSettingsRouter(settings)

	req := httptest.NewRequest(http.MethodPut, "/payment-settings/", bytes.NewReader([]byte(`{"gateway_secret":"sk_live_rotated"}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.GatewaySecret == nil || *captured.GatewaySecret != "sk_live_rotated" {
		t.Fatalf("expected gateway secret in command, got %v", captured.GatewaySecret)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, leaked := body["gateway_secret"]; leaked {
		t.Fatalf("gateway secret must not appear in responses: %s", rr.Body.String())
	}
}

func TestPaymentSettingsHandlersUpdateRequiresAdmin(t *testing.T) {
	router := newSettingsRouter(&stubSettingsService{})

	req := httptest.NewRequest(http.MethodPut, "/payment-settings/", bytes.NewReader([]byte(`{"cash_enabled":false}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestPaymentSettingsHandlersUpdateNoChanges(t *testing.T) {
	settings := &stubSettingsService{
		updateFn: func(context.Context, services.UpdatePaymentSettingsCommand) (services.PaymentSettings, error) {
			return services.PaymentSettings{}, services.ErrSettingsInvalidInput
		},
	}
	router := newSettingsRouter(settings)

	req := httptest.NewRequest(http.MethodPut, "/payment-settings/", bytes.NewReader([]byte(`{}`)))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
