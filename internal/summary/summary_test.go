package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ggonzalez94/solsum/internal/cache"
	"github.com/ggonzalez94/solsum/internal/model"
)

type fakeGenerator struct {
	text            string
	err             error
	calls           int
	lastInstruction string
	lastPrompt      string
}

func (f *fakeGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	f.calls++
	f.lastInstruction = systemInstruction
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

const payload = `[{"signature":"abc","nativeTransfers":[{"amount":5,"fromUserAccount":"A","toUserAccount":"B"}]}]`

func TestSummarizeCachesByPayload(t *testing.T) {
	gen := &fakeGenerator{text: "A sent 5 tokens to B."}
	store := cache.NewMemory(0)
	s := New(gen, store, Options{})

	first := s.Summarize(context.Background(), []byte(payload))
	if first.Status != model.SummaryStatusOK || first.Text != "A sent 5 tokens to B." {
		t.Fatalf("unexpected summary: %+v", first)
	}
	if first.Cache.Status != "write" {
		t.Fatalf("expected cache write, got %+v", first.Cache)
	}
	if gen.lastPrompt != TriggerPrompt {
		t.Fatalf("unexpected prompt %q", gen.lastPrompt)
	}
	if !strings.Contains(gen.lastInstruction, payload) {
		t.Fatalf("expected payload embedded in instruction, got %q", gen.lastInstruction)
	}

	second := s.Summarize(context.Background(), []byte(payload))
	if gen.calls != 1 {
		t.Fatalf("expected zero additional model calls, got %d", gen.calls)
	}
	if second.Text != first.Text || second.Cache.Status != "hit" {
		t.Fatalf("expected cached summary, got %+v", second)
	}
}

func TestSummarizeEmptyPayloadSkipsModelAndCache(t *testing.T) {
	for _, input := range []string{"", "  ", "null", "[]", "{}", " [ ] "} {
		gen := &fakeGenerator{text: "unused"}
		store := cache.NewMemory(0)
		s := New(gen, store, Options{})

		got := s.Summarize(context.Background(), []byte(input))
		if got.Text != NoRecordsText || got.Status != model.SummaryStatusEmpty {
			t.Fatalf("input %q: unexpected summary %+v", input, got)
		}
		if gen.calls != 0 {
			t.Fatalf("input %q: expected no model call", input)
		}
		if store.Len() != 0 {
			t.Fatalf("input %q: expected no cache entry", input)
		}
		if hits, misses := store.Stats(); hits+misses != 0 {
			t.Fatalf("input %q: expected no cache lookup, got %d hits %d misses", input, hits, misses)
		}
	}
}

func TestSummarizeFailureIsNotCached(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model offline")}
	store := cache.NewMemory(0)
	s := New(gen, store, Options{})

	got := s.Summarize(context.Background(), []byte(payload))
	if got.Text != UnavailableText || got.Status != model.SummaryStatusUnavailable {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if !strings.Contains(got.Reason, "model offline") {
		t.Fatalf("expected reason, got %q", got.Reason)
	}
	if store.Len() != 0 {
		t.Fatal("expected failure not to be cached")
	}

	gen.err = nil
	gen.text = "recovered"
	again := s.Summarize(context.Background(), []byte(payload))
	if again.Text != "recovered" || gen.calls != 2 {
		t.Fatalf("expected retry after failure, got %+v calls=%d", again, gen.calls)
	}
}

func TestBlankModelOutputIsUnavailable(t *testing.T) {
	gen := &fakeGenerator{text: "   "}
	store := cache.NewMemory(0)
	s := New(gen, store, Options{})

	got := s.Summarize(context.Background(), []byte(payload))
	if got.Status != model.SummaryStatusUnavailable || store.Len() != 0 {
		t.Fatalf("expected blank output to be unavailable and uncached, got %+v", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	s := New(gen, nil, Options{BreakerFailures: 2})

	for i := 0; i < 2; i++ {
		s.Summarize(context.Background(), []byte(payload))
	}
	got := s.Summarize(context.Background(), []byte(payload))
	if gen.calls != 2 {
		t.Fatalf("expected breaker to short-circuit third call, got %d calls", gen.calls)
	}
	if got.Status != model.SummaryStatusUnavailable {
		t.Fatalf("expected unavailable while breaker is open, got %+v", got)
	}
}

func TestNilGeneratorDegrades(t *testing.T) {
	s := New(nil, nil, Options{BreakerFailures: -1})
	got := s.Summarize(context.Background(), []byte(payload))
	if got.Status != model.SummaryStatusUnavailable || got.Text != UnavailableText {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestKeyIgnoresWhitespaceButNotOrder(t *testing.T) {
	compact := `[{"a":1},{"b":2}]`
	spaced := "[ {\"a\": 1},\n {\"b\": 2} ]"
	reordered := `[{"b":2},{"a":1}]`

	if Key([]byte(compact)) != Key([]byte(spaced)) {
		t.Fatal("expected whitespace-insensitive key")
	}
	if Key([]byte(compact)) == Key([]byte(reordered)) {
		t.Fatal("expected order-sensitive key")
	}
	if !strings.HasPrefix(Key([]byte(compact)), "aisummary_") || len(Key([]byte(compact))) != len("aisummary_")+64 {
		t.Fatalf("unexpected key shape %q", Key([]byte(compact)))
	}
}

func TestUnreadableCachedSummaryIsRegenerated(t *testing.T) {
	gen := &fakeGenerator{text: "fresh"}
	store := cache.NewMemory(0)
	_ = store.Set(Key([]byte(payload)), []byte("not a json string"), 0)
	s := New(gen, store, Options{})

	got := s.Summarize(context.Background(), []byte(payload))
	if got.Text != "fresh" || gen.calls != 1 {
		t.Fatalf("expected regeneration, got %+v calls=%d", got, gen.calls)
	}
}
