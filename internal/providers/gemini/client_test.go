package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/summary"
)

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), "test-key", "", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), "  ", "", "", nil)
	if !clierr.Is(err, clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestNewDefaultsModel(t *testing.T) {
	c, err := New(context.Background(), "test-key", "", "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Fatalf("expected default model, got %q", c.Model())
	}
	c, err = New(context.Background(), "test-key", "gemini-2.0-flash", "", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Model() != "gemini-2.0-flash" {
		t.Fatalf("unexpected model %q", c.Model())
	}
}

func TestGenerateSendsInstructionAndPrompt(t *testing.T) {
	var calls atomic.Int32
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/models/"+DefaultModel+":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"  A sent 1 SOL to B.  "}]}}]}`))
	})

	text, err := c.Generate(context.Background(), "records: []", summary.TriggerPrompt)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "A sent 1 SOL to B." {
		t.Fatalf("unexpected text %q", text)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request, got %d", calls.Load())
	}
	if got.SystemInstruction == nil || len(got.SystemInstruction.Parts) == 0 || got.SystemInstruction.Parts[0].Text != "records: []" {
		t.Fatalf("expected system instruction in request, got %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 1 || len(got.Contents[0].Parts) == 0 || got.Contents[0].Parts[0].Text != summary.TriggerPrompt {
		t.Fatalf("expected trigger prompt as the only content, got %+v", got.Contents)
	}
}

func TestGenerateServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error","status":"INTERNAL"}}`))
	})
	if _, err := c.Generate(context.Background(), "records", summary.TriggerPrompt); !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestGenerateNoCandidatesIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})
	if _, err := c.Generate(context.Background(), "records", summary.TriggerPrompt); !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
