package model

import (
	"encoding/json"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Payload string `json:"payload,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     []CacheStatus    `json:"cache,omitempty"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// CacheStatus describes how one cached step was served: hit, miss, write or bypass.
type CacheStatus struct {
	Scope  string `json:"scope"`
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

// NativeTransfer is one SOL movement inside a transaction. Amounts are in lamports.
type NativeTransfer struct {
	Amount          float64 `json:"amount"`
	FromUserAccount string  `json:"fromUserAccount,omitempty"`
	ToUserAccount   string  `json:"toUserAccount,omitempty"`
}

// Transaction is the decoded view of one indexed transaction record.
type Transaction struct {
	Signature       string           `json:"signature"`
	Description     string           `json:"description,omitempty"`
	Timestamp       int64            `json:"timestamp"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
}

type FetchStatus string

const (
	FetchStatusOK     FetchStatus = "ok"
	FetchStatusEmpty  FetchStatus = "empty"
	FetchStatusFailed FetchStatus = "failed"
)

type SummaryStatus string

const (
	SummaryStatusOK          SummaryStatus = "ok"
	SummaryStatusEmpty       SummaryStatus = "empty"
	SummaryStatusUnavailable SummaryStatus = "unavailable"
)

// Resolution is everything produced for one submitted identifier.
type Resolution struct {
	Identifier    string          `json:"identifier"`
	Type          string          `json:"type"`
	Primary       *Transaction    `json:"primary"`
	Transactions  []Transaction   `json:"transactions"`
	FetchStatus   FetchStatus     `json:"fetch_status"`
	FetchError    string          `json:"fetch_error,omitempty"`
	Summary       string          `json:"summary"`
	SummaryStatus SummaryStatus   `json:"summary_status"`
	Raw           json.RawMessage `json:"-"`
}
