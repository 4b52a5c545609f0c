package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewLoggerFrom(zap.New(core)), logs
}

func TestRequestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger()
	handler := middleware.RequestID(RequestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}
	if fields["request_id"] == "" || fields["path"] != "/health" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger()
	handler := RecoverMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incidents", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if logs.FilterMessage("panic_recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestAuditMiddlewareSkipsAnonymous(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger()
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	anonymous := AuditMiddleware(logger, func(*http.Request) string { return "" })(noop)
	anonymous.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if logs.FilterMessage("audit").Len() != 0 {
		t.Fatal("anonymous requests should not be audited")
	}

	known := AuditMiddleware(logger, func(*http.Request) string { return "user-1" })(noop)
	known.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 || entries[0].ContextMap()["user_id"] != "user-1" {
		t.Fatalf("expected one audit entry for user-1, got %v", entries)
	}
}
