package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOpenRouterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"result := 55"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenRouterWithBaseURL("test-key", "test-model", srv.URL)
	got, err := o.Generate(context.Background(), "sum 1..10")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "result := 55" {
		t.Errorf("Generate = %q", got)
	}
}

func TestOpenRouterRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenRouterWithBaseURL("k", "m", srv.URL)
	got, err := o.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" {
		t.Errorf("Generate = %q, want ok", got)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestOpenRouterNonRetryableError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenRouterWithBaseURL("bad-key", "m", srv.URL)
	if _, err := o.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error for 401")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on auth failure)", calls.Load())
	}
}

func TestOpenRouterProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"model not available"}}`))
	}))
	defer srv.Close()

	o := NewOpenRouterWithBaseURL("k", "m", srv.URL)
	if _, err := o.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected provider error")
	}
}
