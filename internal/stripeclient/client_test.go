package stripeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(Options{
		SecretKey: "sk_test_123",
		BaseURL:   server.URL,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
	return client, server
}

func TestListParsesPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("unexpected limit %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"id": "cus_1", "object": "customer", "email": "a@example.com"},
				{"id": "cus_2", "object": "customer"}
			],
			"has_more": true
		}`))
	}))

	page, err := client.List(context.Background(), "/v1/customers", ListParams{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !page.HasMore {
		t.Fatalf("expected has_more")
	}
	if len(page.Data) != 2 || page.Data[0].ID != "cus_1" || page.Data[1].ID != "cus_2" {
		t.Fatalf("unexpected page data: %+v", page.Data)
	}
	if len(page.Data[0].Raw) == 0 {
		t.Fatalf("expected raw payload to be captured")
	}
}

func TestListPassesCursorAndCreatedFilter(t *testing.T) {
	var seen atomic.Value
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"object":"list","data":[],"has_more":false}`))
	}))

	_, err := client.List(context.Background(), "/v1/customers", ListParams{
		StartingAfter: "cus_9",
		Limit:         100,
		CreatedGTE:    1700000000,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	query, _ := seen.Load().(string)
	for _, fragment := range []string{"starting_after=cus_9", "limit=100", "created%5Bgte%5D=1700000000"} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query %q missing %q", query, fragment)
		}
	}
}

func TestRateLimitRetriedThenSucceeds(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[],"has_more":false}`))
	}))

	if _, err := client.List(context.Background(), "/v1/charges", ListParams{}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestTransientExhaustion(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.List(context.Background(), "/v1/charges", ListParams{})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Fatalf("expected 5 attempts, got %d", got)
	}
}

func TestAuthErrorIsFatalAndNotRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetAccount(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", got)
	}
}

func TestRetrieveNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Retrieve(context.Background(), "/v1/customers", "cus_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"parameter_unknown","message":"Unknown parameter"}}`))
	}))

	_, err := client.List(context.Background(), "/v1/customers", ListParams{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "parameter_unknown" || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
