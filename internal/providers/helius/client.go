package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/httpx"
)

const (
	Name           = "helius"
	DefaultBaseURL = "https://api.helius.xyz/v0"
)

// Client reads parsed transaction history from the Helius enhanced
// transactions API. Responses are returned as raw JSON arrays.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, baseURL, apiKey string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
	}
}

// AccountTransactions returns the most recent limit transactions for address.
func (c *Client) AccountTransactions(ctx context.Context, address string, limit int) ([]byte, error) {
	vals := url.Values{}
	vals.Set("api-key", c.apiKey)
	vals.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), vals.Encode())

	resp, err := httpx.DoBody(ctx, c.http, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecords(resp, "helius address transactions")
}

type detailsRequest struct {
	Transactions []string `json:"transactions"`
}

// TransactionDetails looks up the given signatures in one batch request.
func (c *Client) TransactionDetails(ctx context.Context, signatures []string) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one transaction signature is required")
	}
	body, err := json.Marshal(detailsRequest{Transactions: signatures})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode helius transactions request", err)
	}
	vals := url.Values{}
	vals.Set("api-key", c.apiKey)
	endpoint := fmt.Sprintf("%s/transactions?%s", c.baseURL, vals.Encode())

	resp, err := httpx.DoBody(ctx, c.http, http.MethodPost, endpoint, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecords(resp, "helius transaction details")
}

// decodeRecords checks for a service-reported error before the HTTP status,
// since the indexer sends {"error": ...} bodies with 4xx codes.
func decodeRecords(resp *httpx.Response, op string) ([]byte, error) {
	if payload, ok := serviceError(resp.Body); ok {
		return nil, clierr.Service(op+" failed", payload)
	}
	if err := httpx.StatusError(resp.StatusCode); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, op+": empty response")
	}
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+op, err)
	}
	return body, nil
}

func serviceError(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return "", false
	}
	raw := bytes.TrimSpace(envelope.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return string(raw), true
}
