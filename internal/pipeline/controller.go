// Package pipeline drives one identifier through classification, fetching and
// summarization, and exposes the latest outcome as a snapshot.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/fetch"
	"github.com/ggonzalez94/solsum/internal/identifier"
	"github.com/ggonzalez94/solsum/internal/metrics"
	"github.com/ggonzalez94/solsum/internal/model"
	"github.com/ggonzalez94/solsum/internal/summary"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
)

// Fetcher is the transaction lookup the controller depends on.
type Fetcher interface {
	Account(ctx context.Context, address string) (fetch.Result, error)
	Details(ctx context.Context, signatures []string) (fetch.Result, error)
}

// Summarizer is the summary step the controller depends on.
type Summarizer interface {
	Summarize(ctx context.Context, payload []byte) summary.Summary
}

// Snapshot is a read-only copy of controller state.
type Snapshot struct {
	Sequence   int64             `json:"sequence"`
	Phase      Phase             `json:"phase"`
	Identifier string            `json:"identifier,omitempty"`
	Resolution *model.Resolution `json:"resolution,omitempty"`
	Error      *model.ErrorBody  `json:"error,omitempty"`
}

// Outcome is what Submit hands back to its caller.
type Outcome struct {
	Sequence   int64
	Resolution model.Resolution
	Cache      []model.CacheStatus
	Providers  []model.ProviderStatus
	// Superseded is set when a newer submission started before this one
	// finished; its result was not applied to the snapshot.
	Superseded bool
}

type Controller struct {
	fetcher    Fetcher
	summarizer Summarizer
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	seq      int64
	state    Snapshot
	watchers map[chan Snapshot]struct{}
}

func New(fetcher Fetcher, summarizer Summarizer, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		fetcher:    fetcher,
		summarizer: summarizer,
		logger:     logger,
		metrics:    m,
		state:      Snapshot{Phase: PhaseIdle},
		watchers:   map[chan Snapshot]struct{}{},
	}
}

// Submit resolves raw end to end. Usage and service errors are returned and
// recorded in the snapshot; everything else degrades into the Resolution.
func (c *Controller) Submit(ctx context.Context, raw string) (Outcome, error) {
	seq := c.begin(raw)

	id, err := identifier.Classify(raw)
	if err != nil {
		c.fail(seq, err)
		return Outcome{Sequence: seq, Superseded: c.superseded(seq)}, err
	}

	var res fetch.Result
	if id.IsAddress() {
		res, err = c.fetcher.Account(ctx, id.Value)
	} else {
		res, err = c.fetcher.Details(ctx, []string{id.Value})
	}
	if err != nil {
		c.fail(seq, err)
		return Outcome{Sequence: seq, Superseded: c.superseded(seq)}, err
	}

	sum := c.summarizer.Summarize(ctx, res.Raw)
	resolution := model.Resolution{
		Identifier:    id.Value,
		Type:          string(id.Kind),
		Primary:       res.Primary(),
		Transactions:  res.Records,
		FetchStatus:   res.Status,
		FetchError:    res.Reason,
		Summary:       sum.Text,
		SummaryStatus: sum.Status,
		Raw:           res.Raw,
	}
	out := Outcome{
		Sequence:   seq,
		Resolution: resolution,
		Cache:      []model.CacheStatus{res.Cache, sum.Cache},
		Providers: []model.ProviderStatus{
			{Name: "indexer", Status: string(res.Status), LatencyMS: res.Latency.Milliseconds()},
			{Name: "summary", Status: string(sum.Status), LatencyMS: sum.Latency.Milliseconds()},
		},
	}
	out.Superseded = !c.complete(seq, resolution)
	return out, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe delivers the latest snapshot after every state change. Slow
// readers only see the most recent one. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) begin(raw string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state = Snapshot{Sequence: c.seq, Phase: PhaseLoading, Identifier: raw}
	c.publishLocked()
	return c.seq
}

func (c *Controller) fail(seq int64, err error) {
	c.metrics.RecordSubmission("error")
	c.logger.Warn("submission failed", zap.Int64("sequence", seq), zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		return
	}
	c.state.Phase = PhaseIdle
	c.state.Resolution = nil
	c.state.Error = errorBody(err)
	c.publishLocked()
}

func (c *Controller) complete(seq int64, res model.Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		c.metrics.RecordSubmission("superseded")
		c.logger.Debug("discarding superseded result", zap.Int64("sequence", seq), zap.Int64("latest", c.seq))
		return false
	}
	c.metrics.RecordSubmission(string(res.FetchStatus))
	c.state.Phase = PhaseReady
	c.state.Resolution = &res
	c.state.Error = nil
	c.publishLocked()
	return true
}

func (c *Controller) superseded(seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq != c.seq
}

func (c *Controller) publishLocked() {
	snap := c.state
	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func errorBody(err error) *model.ErrorBody {
	if cErr, ok := clierr.As(err); ok {
		return &model.ErrorBody{
			Code:    int(cErr.Code),
			Type:    clierr.TypeName(cErr.Code),
			Message: cErr.Message,
			Payload: cErr.Payload,
		}
	}
	return &model.ErrorBody{
		Code:    int(clierr.CodeInternal),
		Type:    clierr.TypeName(clierr.CodeInternal),
		Message: err.Error(),
	}
}
