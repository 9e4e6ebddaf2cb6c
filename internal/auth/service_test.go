package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateRequest(t *testing.T) {
	svc, err := NewService(Config{
		Enabled: true,
		Seeds: []Seed{
			{Name: "ops", Hash: HashKey("secret-key")},
			{Name: "revoked", Hash: HashKey("old-key"), Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()

	key, err := svc.AuthenticateRequest(ctx, "secret-key")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if key.Name != "ops" {
		t.Fatalf("unexpected key: %+v", key)
	}

	if _, err := svc.AuthenticateRequest(ctx, "wrong-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "old-key"); !errors.Is(err, ErrKeyRevoked) {
		t.Fatalf("expected revoked key, got %v", err)
	}
}

func TestMiddlewareGatesRequests(t *testing.T) {
	svc, err := NewService(Config{
		Enabled: true,
		Seeds:   []Seed{{Name: "ops", Hash: HashKey("secret-key")}},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	var seenKey *Key
	handler := svc.Middleware(MiddlewareConfig{AuditEvent: "test"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenKey = KeyFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with key, got %d", rec.Code)
	}
	if seenKey == nil || seenKey.Name != "ops" {
		t.Fatalf("expected key in context, got %+v", seenKey)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(Config{Enabled: false})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	handler := svc.Middleware(MiddlewareConfig{})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through when disabled, got %d", rec.Code)
	}
}
