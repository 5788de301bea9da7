package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// testConfig returns an AppConfig with fast retry delays for testing
func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:        maxRetries,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
		MaxPageSizeBytes:  1 << 20,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
		io.WriteString(w, "attempt body")
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetch_Success(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusOK})
	rec := stats.NewRecorder()
	fetcher := NewFetcher(server.Client(), testConfig(3), rec, testLogger())

	resp, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL+"/page"), "test-agent")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.Status)
	}
	if string(resp.Body) != "attempt body" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if resp.URL != server.URL+"/page" {
		t.Errorf("unexpected final URL %q", resp.URL)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
	if _, ok := rec.Get(stats.FetchRetryCount); ok {
		t.Error("expected no network retries to be recorded")
	}
}

func TestFetch_SendsMethodHeadersBody(t *testing.T) {
	var gotMethod, gotAgent, gotHeader, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAgent = r.UserAgent()
		gotHeader = r.Header.Get("X-Test")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	t.Cleanup(server.Close)

	req := &models.Request{URL: server.URL, Method: "post", Body: []byte("payload"), Header: http.Header{"X-Test": {"yes"}}}
	fetcher := NewFetcher(server.Client(), testConfig(0), nil, testLogger())
	if _, err := fetcher.Fetch(context.Background(), req, "poet-test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPost || gotAgent != "poet-test" || gotHeader != "yes" || gotBody != "payload" {
		t.Errorf("unexpected request: method=%s agent=%s header=%s body=%s", gotMethod, gotAgent, gotHeader, gotBody)
	}
}

func TestFetchWithRetry_ServerError_RetrySuccess(t *testing.T) {
	// 500 → 503 → 200 (succeeds on 3rd attempt)
	server, attempts := mockServer(t, []int{500, 503, 200})
	rec := stats.NewRecorder()
	fetcher := NewFetcher(server.Client(), testConfig(3), rec, testLogger())

	resp, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL), "")
	if err != nil {
		t.Fatalf("expected no error after retry, got: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.Status)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if got := rec.Value(stats.FetchRetryCount); got != 2 {
		t.Errorf("expected fetch/retry/count 2, got %d", got)
	}
	if got := rec.Value(stats.FetchRetryReasonCount + "HTTP_5xx"); got != 2 {
		t.Errorf("expected 2 HTTP_5xx network retries, got %d", got)
	}
	if _, ok := rec.Get(stats.RetryCount); ok {
		t.Error("network retries must not touch the extraction retry counters")
	}
}

func TestFetchWithRetry_Exhausted(t *testing.T) {
	server, attempts := mockServer(t, []int{500})
	rec := stats.NewRecorder()
	fetcher := NewFetcher(server.Client(), testConfig(2), rec, testLogger())

	_, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL), "")
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Fatalf("expected ErrRetryFailed, got %v", err)
	}
	if !errors.Is(err, utils.ErrServerHTTPError) {
		t.Errorf("expected wrapped ErrServerHTTPError, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if got := rec.Value(stats.FetchRetryMaxReached); got != 1 {
		t.Errorf("expected fetch/retry/max_reached 1, got %d", got)
	}
}

func TestFetchWithRetry_ClientErrorNotRetried(t *testing.T) {
	server, attempts := mockServer(t, []int{404})
	fetcher := NewFetcher(server.Client(), testConfig(3), nil, testLogger())

	_, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL), "")
	if !errors.Is(err, utils.ErrClientHTTPError) {
		t.Fatalf("expected ErrClientHTTPError, got %v", err)
	}
	if utils.CategorizeError(err) != "HTTP_404" {
		t.Errorf("expected HTTP_404 category, got %s", utils.CategorizeError(err))
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_TooManyRequestsRetried(t *testing.T) {
	server, attempts := mockServer(t, []int{429, 200})
	fetcher := NewFetcher(server.Client(), testConfig(2), nil, testLogger())

	if _, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL), ""); err != nil {
		t.Fatalf("expected success after 429, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestFetch_MaxPageSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 100))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(0)
	cfg.MaxPageSizeBytes = 10
	fetcher := NewFetcher(server.Client(), cfg, nil, testLogger())

	_, err := fetcher.Fetch(context.Background(), models.NewRequest(server.URL), "")
	if !errors.Is(err, utils.ErrResponseBodyRead) {
		t.Fatalf("expected ErrResponseBodyRead, got %v", err)
	}
}

func TestFetchWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	server, _ := mockServer(t, []int{500})
	cfg := testConfig(5)
	cfg.InitialRetryDelay = time.Second
	cfg.MaxRetryDelay = time.Second
	fetcher := NewFetcher(server.Client(), cfg, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fetcher.Fetch(ctx, models.NewRequest(server.URL), "")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Errorf("fetch did not stop promptly on cancellation")
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	fetcher := NewFetcher(http.DefaultClient, testConfig(0), nil, testLogger())
	_, err := fetcher.Fetch(context.Background(), models.NewRequest("http://[::1"), "")
	if !errors.Is(err, utils.ErrRequestCreation) {
		t.Fatalf("expected ErrRequestCreation, got %v", err)
	}
}
