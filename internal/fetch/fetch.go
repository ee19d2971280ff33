// Package fetch resolves account addresses and transaction signatures into
// transaction records, serving repeated requests from the cache.
//
// Only explicit service errors and usage errors are returned as errors.
// Transport and decode failures are logged and reported as a failed Result
// with no records so callers always have something to render.
package fetch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/solsum/internal/cache"
	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/metrics"
	"github.com/ggonzalez94/solsum/internal/model"
)

// DefaultLimit is how many recent transactions are requested for an address.
const DefaultLimit = 10

const (
	opAddressTransactions = "address_transactions"
	opTransactionDetails  = "transaction_details"
	cacheScope            = "transactions"
)

// Indexer is the remote boundary the fetcher reads from.
type Indexer interface {
	AccountTransactions(ctx context.Context, address string, limit int) ([]byte, error)
	TransactionDetails(ctx context.Context, signatures []string) ([]byte, error)
}

type Result struct {
	Status  model.FetchStatus
	Records []model.Transaction
	// Raw is the payload exactly as received or cached; "[]" when the fetch failed.
	Raw    json.RawMessage
	Reason string
	Cache  model.CacheStatus
	// Latency is the indexer round trip; zero when served from cache.
	Latency time.Duration
}

// Primary is the first record, or nil for an empty result.
func (r Result) Primary() *model.Transaction {
	if len(r.Records) == 0 {
		return nil
	}
	first := r.Records[0]
	return &first
}

type Options struct {
	// TTL applies to stored responses; zero keeps them forever.
	TTL     time.Duration
	Limit   int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Fetcher struct {
	indexer Indexer
	store   cache.Backend
	ttl     time.Duration
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a fetcher. A nil store disables caching.
func New(indexer Indexer, store cache.Backend, opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Fetcher{
		indexer: indexer,
		store:   store,
		ttl:     opts.TTL,
		limit:   limit,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func AccountKey(address string) string {
	return "transactions_" + address
}

func DetailsKey(signatures []string) string {
	return "transaction_" + strings.Join(signatures, ",")
}

// Account returns the most recent transactions for address.
func (f *Fetcher) Account(ctx context.Context, address string) (Result, error) {
	return f.fetch(ctx, opAddressTransactions, AccountKey(address), func(ctx context.Context) ([]byte, error) {
		return f.indexer.AccountTransactions(ctx, address, f.limit)
	}, zap.String("address", address))
}

// Details returns full records for the given signatures.
func (f *Fetcher) Details(ctx context.Context, signatures []string) (Result, error) {
	if len(signatures) == 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "at least one transaction signature is required")
	}
	sigs := append([]string(nil), signatures...)
	return f.fetch(ctx, opTransactionDetails, DetailsKey(sigs), func(ctx context.Context) ([]byte, error) {
		return f.indexer.TransactionDetails(ctx, sigs)
	}, zap.Strings("signatures", sigs))
}

func (f *Fetcher) fetch(ctx context.Context, op, key string, call func(context.Context) ([]byte, error), field zap.Field) (Result, error) {
	if cached, ok := f.lookup(key, field); ok {
		return cached, nil
	}

	start := f.now()
	body, err := call(ctx)
	latency := f.now().Sub(start)
	elapsed := latency.Seconds()
	if err != nil {
		if clierr.Is(err, clierr.CodeService) || clierr.Is(err, clierr.CodeUsage) {
			f.metrics.RecordIndexerRequest(op, "service_error", elapsed)
			f.logger.Warn("indexer reported an error", zap.String("operation", op), field, zap.Error(err))
			return Result{}, err
		}
		f.metrics.RecordIndexerRequest(op, "failed", elapsed)
		f.logger.Error("indexer request failed; continuing without data", zap.String("operation", op), field, zap.Error(err))
		return failed(err, latency), nil
	}

	records, err := decode(body)
	if err != nil {
		f.metrics.RecordIndexerRequest(op, "failed", elapsed)
		f.logger.Error("indexer response could not be decoded; continuing without data", zap.String("operation", op), field, zap.Error(err))
		return failed(err, latency), nil
	}
	f.metrics.RecordIndexerRequest(op, "ok", elapsed)

	cacheStatus := model.CacheStatus{Scope: cacheScope, Status: "bypass"}
	if f.store != nil {
		cacheStatus.Status = "miss"
		if err := f.store.Set(key, body, f.ttl); err != nil {
			f.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		} else {
			cacheStatus.Status = "write"
		}
	}
	res := succeeded(records, body, cacheStatus)
	res.Latency = latency
	return res, nil
}

func (f *Fetcher) lookup(key string, field zap.Field) (Result, bool) {
	if f.store == nil {
		return Result{}, false
	}
	cached, err := f.store.Get(key)
	if err != nil {
		f.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return Result{}, false
	}
	f.metrics.RecordCacheLookup(cacheScope, cached.Hit)
	if !cached.Hit {
		return Result{}, false
	}
	records, err := decode(cached.Value)
	if err != nil {
		f.logger.Warn("cached transactions are unreadable; refetching", zap.String("key", key), field, zap.Error(err))
		return Result{}, false
	}
	status := model.CacheStatus{Scope: cacheScope, Status: "hit", AgeMS: cached.Age.Milliseconds()}
	return succeeded(records, cached.Value, status), true
}

func decode(body []byte) ([]model.Transaction, error) {
	var records []model.Transaction
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func succeeded(records []model.Transaction, raw []byte, cacheStatus model.CacheStatus) Result {
	status := model.FetchStatusOK
	if len(records) == 0 {
		status = model.FetchStatusEmpty
		records = []model.Transaction{}
	}
	return Result{Status: status, Records: records, Raw: json.RawMessage(raw), Cache: cacheStatus}
}

func failed(err error, latency time.Duration) Result {
	return Result{
		Status:  model.FetchStatusFailed,
		Records: []model.Transaction{},
		Raw:     json.RawMessage("[]"),
		Reason:  err.Error(),
		Cache:   model.CacheStatus{Scope: cacheScope, Status: "miss"},
		Latency: latency,
	}
}
