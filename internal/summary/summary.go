// Package summary turns a transaction payload into a short prose summary
// using a generative text model, caching each distinct payload's summary.
package summary

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ggonzalez94/solsum/internal/cache"
	"github.com/ggonzalez94/solsum/internal/metrics"
	"github.com/ggonzalez94/solsum/internal/model"
)

const (
	// NoRecordsText is returned without a model call when there is nothing to summarize.
	NoRecordsText = "No summary available as there is no transaction record"
	// UnavailableText is returned when the model could not produce a summary.
	UnavailableText = "Summary unavailable"

	TriggerPrompt = "Analyze and draw insights"

	cacheScope = "summary"
)

// Generator is the text-generation boundary.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)
}

type Summary struct {
	Text    string
	Status  model.SummaryStatus
	Reason  string
	Cache   model.CacheStatus
	Latency time.Duration
}

type Options struct {
	// TTL applies to stored summaries; zero keeps them forever.
	TTL time.Duration
	// BreakerFailures is the consecutive failure count that opens the breaker.
	// Zero uses 3; negative disables the breaker.
	BreakerFailures int
	// BreakerCooldown is how long the breaker stays open. Zero uses one minute.
	BreakerCooldown time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

type Summarizer struct {
	gen     Generator
	store   cache.Backend
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a summarizer. A nil store disables caching.
func New(gen Generator, store cache.Backend, opts Options) *Summarizer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Summarizer{
		gen:     gen,
		store:   store,
		ttl:     opts.TTL,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if opts.BreakerFailures >= 0 {
		s.breaker = newBreaker(opts.BreakerFailures, opts.BreakerCooldown, logger)
	}
	return s
}

func newBreaker(failures int, cooldown time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	threshold := uint32(failures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "summary",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("summary circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Key derives the cache key from the compacted payload, so identical payloads
// share a key while any change in content or order produces a new one.
func Key(payload []byte) string {
	sum := sha256.Sum256(canonical(payload))
	return "aisummary_" + hex.EncodeToString(sum[:])
}

// IsEmpty reports whether payload carries no records: blank, null, [] or {}.
func IsEmpty(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// Summarize never fails: model errors degrade to UnavailableText.
func (s *Summarizer) Summarize(ctx context.Context, payload []byte) Summary {
	if IsEmpty(payload) {
		s.metrics.RecordSummary("empty", 0)
		return Summary{
			Text:   NoRecordsText,
			Status: model.SummaryStatusEmpty,
			Cache:  model.CacheStatus{Scope: cacheScope, Status: "bypass"},
		}
	}

	body := canonical(payload)
	key := Key(body)
	if cached, ok := s.lookup(key); ok {
		return cached
	}

	start := s.now()
	text, err := s.generate(ctx, SystemInstruction(body))
	latency := s.now().Sub(start)
	elapsed := latency.Seconds()
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("model returned an empty summary")
	}
	if err != nil {
		outcome := "unavailable"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		s.metrics.RecordSummary(outcome, elapsed)
		s.logger.Error("summary generation failed", zap.String("key", key), zap.Error(err))
		return Summary{
			Text:    UnavailableText,
			Status:  model.SummaryStatusUnavailable,
			Reason:  err.Error(),
			Cache:   model.CacheStatus{Scope: cacheScope, Status: "miss"},
			Latency: latency,
		}
	}
	s.metrics.RecordSummary("ok", elapsed)

	cacheStatus := model.CacheStatus{Scope: cacheScope, Status: "bypass"}
	if s.store != nil {
		cacheStatus.Status = "miss"
		encoded, _ := json.Marshal(text)
		if err := s.store.Set(key, encoded, s.ttl); err != nil {
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		} else {
			cacheStatus.Status = "write"
		}
	}
	return Summary{Text: text, Status: model.SummaryStatusOK, Cache: cacheStatus, Latency: latency}
}

func (s *Summarizer) generate(ctx context.Context, instruction string) (string, error) {
	if s.gen == nil {
		return "", errors.New("no summarization model configured")
	}
	if s.breaker == nil {
		return s.gen.Generate(ctx, instruction, TriggerPrompt)
	}
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.gen.Generate(ctx, instruction, TriggerPrompt)
	})
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	return text, nil
}

func (s *Summarizer) lookup(key string) (Summary, bool) {
	if s.store == nil {
		return Summary{}, false
	}
	cached, err := s.store.Get(key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return Summary{}, false
	}
	s.metrics.RecordCacheLookup(cacheScope, cached.Hit)
	if !cached.Hit {
		return Summary{}, false
	}
	var text string
	if err := json.Unmarshal(cached.Value, &text); err != nil {
		s.logger.Warn("cached summary is unreadable; regenerating", zap.String("key", key), zap.Error(err))
		return Summary{}, false
	}
	return Summary{
		Text:   text,
		Status: model.SummaryStatusOK,
		Cache:  model.CacheStatus{Scope: cacheScope, Status: "hit", AgeMS: cached.Age.Milliseconds()},
	}, true
}

// SystemInstruction frames payload for the model and embeds it verbatim.
func SystemInstruction(payload []byte) string {
	return fmt.Sprintf(`You are a large language model extensively trained on Solana programs and their Interface Description Language. The JSON below describes one or more Solana transactions. Give a general overview in no more than 60 words. You may exceed that limit only when the data is an array of several transactions; in that case describe each transfer as "<amount> tokens transferred from <source_address> to <destination_address>", and the reverse direction where it applies. Analyze the actual values in the data rather than treating them as placeholders, and return a concise summary of what happened. The data is: %s`, payload)
}

func canonical(payload []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return bytes.TrimSpace(payload)
	}
	return buf.Bytes()
}
