package helius

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/httpx"
)

const testAddress = "86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY"

func TestAccountTransactionsRequestShape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/addresses/"+testAddress+"/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("api-key"); got != "test-key" {
			t.Fatalf("unexpected api-key %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Fatalf("unexpected limit %q", got)
		}
		_, _ = w.Write([]byte(`[{"signature":"abc","timestamp":1700000000,"nativeTransfers":[{"amount":5}],"type":"TRANSFER"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "test-key")
	body, err := c.AccountTransactions(context.Background(), testAddress, 10)
	if err != nil {
		t.Fatalf("AccountTransactions failed: %v", err)
	}
	if string(body) != `[{"signature":"abc","timestamp":1700000000,"nativeTransfers":[{"amount":5}],"type":"TRANSFER"}]` {
		t.Fatalf("expected verbatim body, got %s", body)
	}
}

func TestTransactionDetailsPostsSignatures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		var req struct {
			Transactions []string `json:"transactions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(req.Transactions) != 1 || req.Transactions[0] != "sig1" {
			t.Fatalf("unexpected signatures: %#v", req.Transactions)
		}
		_, _ = w.Write([]byte(`[{"signature":"sig1","timestamp":1,"nativeTransfers":[]}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "k")
	if _, err := c.TransactionDetails(context.Background(), []string{"sig1"}); err != nil {
		t.Fatalf("TransactionDetails failed: %v", err)
	}
}

func TestTransactionDetailsRejectsEmptyList(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "http://127.0.0.1:0", "k")
	_, err := c.TransactionDetails(context.Background(), nil)
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestServiceErrorFieldIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "k")
	_, err := c.AccountTransactions(context.Background(), testAddress, 10)
	cErr, ok := clierr.As(err)
	if !ok || cErr.Code != clierr.CodeService {
		t.Fatalf("expected service error, got %v", err)
	}
	if cErr.Payload != "rate limited" {
		t.Fatalf("unexpected payload %q", cErr.Payload)
	}
}

func TestServiceErrorObjectPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":-32602,"message":"invalid address"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "k")
	_, err := c.AccountTransactions(context.Background(), "x", 10)
	cErr, ok := clierr.As(err)
	if !ok || cErr.Code != clierr.CodeService {
		t.Fatalf("expected service error, got %v", err)
	}
	if cErr.Payload != `{"code":-32602,"message":"invalid address"}` {
		t.Fatalf("unexpected payload %q", cErr.Payload)
	}
}

func TestServerFailureWithoutErrorFieldIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "k")
	_, err := c.AccountTransactions(context.Background(), testAddress, 10)
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestNonArrayBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"unexpected"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), srv.URL, "k")
	_, err := c.TransactionDetails(context.Background(), []string{"sig"})
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
