package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"incident-api/internal/auth"
)

func newIncidentRouter() http.Handler {
	service := NewService(NewMemoryStore(), func(context.Context, string) (bool, error) { return true, nil })
	r := chi.NewRouter()
	NewHandler(service).Routes(r)
	return r
}

func request(t *testing.T, router http.Handler, principal *auth.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *principal))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIncidentHandlerLifecycle(t *testing.T) {
	t.Parallel()

	router := newIncidentRouter()
	reporter := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleUser}
	other := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleUser}

	rec := request(t, router, reporter, http.MethodPost, "/incidents", Input{Title: "Mail server down", CategoryID: 2, Priority: PriorityCritical})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode incident: %v", err)
	}

	if rec := request(t, router, reporter, http.MethodGet, "/incidents/"+created.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	if rec := request(t, router, reporter, http.MethodGet, "/incidents/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := request(t, router, reporter, http.MethodGet, "/incidents/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}

	rec = request(t, router, other, http.MethodPut, "/incidents/"+created.ID, Input{Title: "mine now", CategoryID: 2})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other user, got %d", rec.Code)
	}

	rec = request(t, router, reporter, http.MethodPost, "/incidents/"+created.ID+"/comments", map[string]string{"body": "looking into it"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on comment, got %d", rec.Code)
	}

	rec = request(t, router, reporter, http.MethodPost, "/incidents", map[string]any{"title": "x", "categoryId": 1, "reporterId": "spoofed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields should be rejected, got %d", rec.Code)
	}

	if rec := request(t, router, reporter, http.MethodDelete, "/incidents/"+created.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rec.Code)
	}
}

func TestIncidentHandlerRequiresPrincipal(t *testing.T) {
	t.Parallel()

	router := newIncidentRouter()
	rec := request(t, router, nil, http.MethodPost, "/incidents", Input{Title: "x", CategoryID: 1})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}
}

func TestLookupEndpoints(t *testing.T) {
	t.Parallel()

	router := newIncidentRouter()
	user := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleUser}

	rec := request(t, router, user, http.MethodGet, "/categories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var categories []Lookup
	if err := json.Unmarshal(rec.Body.Bytes(), &categories); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(categories) != 5 {
		t.Fatalf("expected 5 seeded categories, got %d", len(categories))
	}

	rec = request(t, router, user, http.MethodGet, "/statuses", nil)
	var statuses []Lookup
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode statuses: %v", err)
	}
	if len(statuses) == 0 || statuses[0].ID != StatusOpen {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
}
