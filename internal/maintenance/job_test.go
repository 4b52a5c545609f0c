package maintenance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"incident-api/internal/auth"
)

type fakeCleaner struct {
	result auth.CleanupResult
	err    error
	calls  int
}

func (c *fakeCleaner) Cleanup(context.Context) (auth.CleanupResult, error) {
	c.calls++
	return c.result, c.err
}

type fakeRemover struct {
	cutoff time.Time
	n      int64
}

func (r *fakeRemover) RemoveStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return r.n, nil
}

func TestJobRunCombinesResults(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{result: auth.CleanupResult{RemovedRefreshTokens: 3, RemovedBlacklist: 2, RemovedResetTokens: 1}}
	remover := &fakeRemover{n: 4}
	job := NewJob(cleaner, remover, time.Hour, nil)

	result, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RemovedRefreshTokens != 3 || result.RemovedIPLimits != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
	if since := time.Since(remover.cutoff); since < time.Hour-time.Minute || since > time.Hour+time.Minute {
		t.Fatalf("cutoff should be about an hour ago, got %s", since)
	}
}

func TestJobRunWithoutLimiter(t *testing.T) {
	t.Parallel()

	job := NewJob(&fakeCleaner{}, nil, 0, nil)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestCleanupHandler(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{result: auth.CleanupResult{RemovedRefreshTokens: 5}}
	job := NewJob(cleaner, nil, 0, nil)

	hidden := NewCleanupHandler(job, nil, "")
	rec := httptest.NewRecorder()
	hidden.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without secret, got %d", rec.Code)
	}

	handler := NewCleanupHandler(job, nil, "s3cret")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.Handle(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	handler.Handle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"removed_refresh_tokens":5`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if cleaner.calls != 1 {
		t.Fatalf("expected one cleanup run, got %d", cleaner.calls)
	}

	cleaner.err = errors.New("db down")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	handler.Handle(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when cleanup fails, got %d", rec.Code)
	}
}

func TestSweepStopsWithContext(t *testing.T) {
	t.Parallel()

	job := NewJob(&fakeCleaner{}, nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Sweep(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
}
