package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newMemoryRuntime(t *testing.T) *Runtime {
	t.Helper()

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BLACKLIST_BACKEND", "postgres")
	t.Setenv("JWT_SECRET", "bootstrap-test-secret-32-bytes-long!")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("AMQP_URL", "")
	t.Setenv("CRON_SECRET", "cron-secret")
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "Adm1n!Password")

	runtime, err := Build(Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

func call(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMemoryRuntimeEndToEnd(t *testing.T) {
	runtime := newMemoryRuntime(t)
	h := runtime.Handler

	if rec := call(t, h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec := call(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Secur3!Pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	rec = call(t, h, http.MethodPost, "/incidents", session.AccessToken, map[string]any{
		"title":      "Laptop will not boot",
		"categoryId": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create incident: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := call(t, h, http.MethodGet, "/incidents", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("incidents without token: expected 401, got %d", rec.Code)
	}

	if rec := call(t, h, http.MethodPost, "/auth/logout", session.AccessToken, map[string]string{"refreshToken": session.RefreshToken}); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := call(t, h, http.MethodGet, "/incidents", session.AccessToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", rec.Code)
	}

	rec = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "Adm1n!Password"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", rec.Code)
	}

	if rec := call(t, h, http.MethodPost, "/internal/maintenance/cleanup", "cron-secret", nil); rec.Code != http.StatusOK {
		t.Fatalf("cleanup: expected 200, got %d", rec.Code)
	}
}
