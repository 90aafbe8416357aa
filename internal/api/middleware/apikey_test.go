package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabledPassesThrough(t *testing.T) {
	auth := NewAPIKeyAuth("")
	if auth.Enabled() {
		t.Fatal("auth enabled with no keys")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAPIKeyAuthRejectsMissingAndBadKeys(t *testing.T) {
	auth := NewAPIKeyAuth("key-one, key-two")
	h := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d", rec.Code)
	}
}

func TestAPIKeyAuthAcceptsBothHeaders(t *testing.T) {
	auth := NewAPIKeyAuth("key-one,key-two")
	h := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer key-one")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("X-API-Key", "key-two")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("x-api-key status = %d", rec.Code)
	}
}

func TestAPIKeyAuthPublicPaths(t *testing.T) {
	auth := NewAPIKeyAuth("secret")
	h := auth.Middleware(okHandler())

	for _, path := range []string{"/health", "/version", "/cron/due-check"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("public path %s status = %d", path, rec.Code)
		}
	}
}

func TestCronAuth(t *testing.T) {
	h := CronAuth("hunter2")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/cron/due-check", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/cron/due-check", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}

	// No secret configured means the route is sealed, not open.
	sealed := CronAuth("")(okHandler())
	req = httptest.NewRequest(http.MethodPost, "/cron/due-check", nil)
	rec = httptest.NewRecorder()
	sealed.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sealed route status = %d", rec.Code)
	}
}
