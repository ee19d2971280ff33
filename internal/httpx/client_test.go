package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
)

func TestDoRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	resp, err := DoBody(context.Background(), client, http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
	if atomic.LoadInt32(&count) != 2 {
		t.Fatalf("expected 2 attempts, got %d", count)
	}
}

func TestDoWithoutRetriesReturnsErrorBody(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	resp, err := DoBody(context.Background(), New(2*time.Second, 0), http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"rate limited"}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected a single attempt, got %d", count)
	}
}

func TestDoBodySendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("unexpected content type %q", got)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := DoBody(context.Background(), New(2*time.Second, 0), http.MethodPost, srv.URL, []byte(`{"a":1}`), nil); err != nil {
		t.Fatalf("DoBody failed: %v", err)
	}
}

func TestDoTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := DoBody(context.Background(), New(time.Second, 0), http.MethodGet, url, nil, nil)
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	cases := map[int]clierr.Code{
		http.StatusTooManyRequests: clierr.CodeRateLimited,
		http.StatusUnauthorized:    clierr.CodeAuth,
		http.StatusBadGateway:      clierr.CodeUnavailable,
		http.StatusNotFound:        clierr.CodeUnavailable,
	}
	for status, code := range cases {
		if err := StatusError(status); !clierr.Is(err, code) {
			t.Fatalf("status %d: expected code %d, got %v", status, code, err)
		}
	}
	if err := StatusError(http.StatusOK); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}
}
