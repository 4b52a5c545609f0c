package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(f *fixture) http.Handler {
	h := NewHandler(f.service, nil)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/reset", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(f.service, nil))
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Post("/revoke", h.Revoke)
			r.Post("/password/change", h.ChangePassword)
			r.Get("/me", h.GetProfile)
			r.Put("/me", h.UpdateProfile)
			r.Delete("/me", h.DeleteAccount)
			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{id}", h.RevokeSession)
			r.With(RequireRole(RoleAdmin)).Get("/admin-only", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRegisterLoginAndProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/auth/register", "", RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/register", "", RegisterInput{
		Username: "alice",
		Email:    "alice2@example.com",
		Password: testPassword,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/register", "", RegisterInput{
		Username: "carol",
		Email:    "not-an-email",
		Password: testPassword,
	})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"field":"email"`) {
		t.Fatalf("expected 400 with field, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result AuthResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/auth/me", result.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for profile, got %d", rec.Code)
	}
	var profile UserSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != "alice" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if strings.Contains(rec.Body.String(), "passwordHash") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("profile must not leak the password hash")
	}
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": testPassword,
		"role":     "Admin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHandlerLockedAccountReturns423(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	f.register(t, "bob")

	for i := 0; i < 4; i++ {
		rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "Wr0ng!Pass"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "Wr0ng!Pass"})
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("expected Retry-After 900, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "lockedUntil") {
		t.Fatalf("expected lockedUntil in body: %s", rec.Body.String())
	}
}

func TestHandlerForgotPasswordAlwaysAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	f.register(t, "alice")

	for _, email := range []string{"alice@example.com", "ghost@example.com", "not-an-email"} {
		rec := doJSON(t, router, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": email})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d", email, rec.Code)
		}
	}
}

func TestMiddlewareRejectsRevokedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	registered := f.register(t, "alice")

	rec := doJSON(t, router, http.MethodPost, "/auth/logout", registered.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from logout, got %d: %s", rec.Code, rec.Body.String())
	}

	// the signature and expiry are still fine, only the blacklist stops it
	if _, err := f.service.ValidateAccessToken(registered.AccessToken); err != nil {
		t.Fatalf("token should still be cryptographically valid: %v", err)
	}
	rec = doJSON(t, router, http.MethodGet, "/auth/me", registered.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "revoked") {
		t.Fatalf("expected 401 revoked, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareRejectsMissingAndExpiredTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	registered := f.register(t, "alice")

	if rec := doJSON(t, router, http.MethodGet, "/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Basic "+registered.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", rec.Code)
	}

	f.clock.Advance(16 * time.Minute)
	if rec := doJSON(t, router, http.MethodGet, "/auth/me", registered.AccessToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}

type failingBlacklist struct {
	BlacklistStore
}

func (failingBlacklist) IsBlacklisted(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestMiddlewareFailsClosedOnBlacklistError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	registered := f.register(t, "alice")
	f.service.blacklist = failingBlacklist{BlacklistStore: f.stores.Blacklist}

	rec := doJSON(t, newTestRouter(f), http.MethodGet, "/auth/me", registered.AccessToken, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when blacklist is unavailable, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	user := f.register(t, "alice")

	if rec := doJSON(t, router, http.MethodGet, "/auth/admin-only", user.AccessToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", rec.Code)
	}

	if err := f.service.BootstrapAdmin(context.Background(), "admin", "admin@example.com", testPassword); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	admin, err := f.service.Login(context.Background(), "admin", testPassword)
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if rec := doJSON(t, router, http.MethodGet, "/auth/admin-only", admin.AccessToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}
}

func TestHandlerRefreshRotatesTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router := newTestRouter(f)
	registered := f.register(t, "alice")

	rec := doJSON(t, router, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": registered.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rotated AuthResult
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.RefreshToken == registered.RefreshToken {
		t.Fatalf("refresh token should rotate")
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": registered.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused token, got %d", rec.Code)
	}
}
