package ordersync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, serverURL string) *apiClient {
	t.Helper()
	// Effectively disable the rate limiter for tests.
	t.Setenv("TESTPROVIDER_RATE_LIMIT_PER_MIN", "6000000")
	c := newAPIClient("testprovider", serverURL, "X-Api-Key", "key")
	// Keep retries fast in tests.
	c.backoffBase = time.Millisecond
	return c
}

func TestGetList_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"orders":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	envelope, err := testClient(t, srv.URL).getList(context.Background(), "/orders.json", nil)
	if err != nil {
		t.Fatalf("getList: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if len(envelope.records()) != 2 {
		t.Fatalf("expected 2 records, got %d", len(envelope.records()))
	}
}

func TestGetList_AuthErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).getList(context.Background(), "/orders", nil)
	if !IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("auth failure was retried %d times", got)
	}
}

func TestGetList_ExhaustsRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.getList(context.Background(), "/orders", nil)
	if !IsTransient(err) {
		t.Fatalf("expected TransientError after exhausting retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != int32(c.maxAttempts) {
		t.Fatalf("expected %d attempts, got %d", c.maxAttempts, got)
	}
}

func TestGetList_SendsAuthHeaderAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("auth header missing")
		}
		if r.URL.Query().Get("limit") != "50" {
			t.Errorf("limit param missing: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	params := url.Values{}
	params.Set("limit", "50")
	if _, err := testClient(t, srv.URL).getList(context.Background(), "/orders", params); err != nil {
		t.Fatalf("getList: %v", err)
	}
}

func TestGetList_CancelledBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.backoffBase = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.getList(ctx, "/orders", nil)
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
}

func TestPageParams(t *testing.T) {
	params := pageParams(nil, PageCursor{UpdatedSince: "2026-01-01T00:00:00Z", Cursor: "abc", PageSize: 25})
	if params.Get("updated_since") != "2026-01-01T00:00:00Z" {
		t.Fatalf("updated_since missing")
	}
	if params.Get("cursor") != "abc" {
		t.Fatalf("cursor missing")
	}
	if params.Get("limit") != "25" {
		t.Fatalf("limit %q, expected 25", params.Get("limit"))
	}

	params = pageParams(nil, PageCursor{})
	if params.Get("limit") != "100" {
		t.Fatalf("default limit %q, expected 100", params.Get("limit"))
	}
}
