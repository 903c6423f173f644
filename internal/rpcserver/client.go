package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/codegnn/internal/inference"
)

// Client calls a codegnn JSON-RPC server.
type Client struct {
	endpoint  string
	http      *http.Client
	requestID atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/rpc",
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer embeds one graph.
func (c *Client) Infer(ctx context.Context, in GraphInput) (*inference.Result, error) {
	var res inference.Result
	if err := c.call(ctx, MethodInfer, InferParams{GraphInput: in}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Index adds graphs to the server's similarity index.
func (c *Client) Index(ctx context.Context, inputs ...GraphInput) (*IndexResult, error) {
	var res IndexResult
	if err := c.call(ctx, MethodIndex, IndexParams{Inputs: inputs}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Search returns the indexed graphs most similar to the query.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]inference.Match, error) {
	var res SearchResult
	if err := c.call(ctx, MethodSearch, p, &res); err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// CacheStats reports the engine cache.
func (c *Client) CacheStats(ctx context.Context) (*CacheStatsResult, error) {
	var res CacheStatsResult
	if err := c.call(ctx, MethodCacheStats, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ClearCache empties the engine cache and returns the number of entries
// removed.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	var res CacheClearResult
	if err := c.call(ctx, MethodCacheClear, nil, &res); err != nil {
		return 0, err
	}
	return res.Cleared, nil
}

// ServerStats reports request counts and cache occupancy.
func (c *Client) ServerStats(ctx context.Context) (*inference.ServerStats, error) {
	var res inference.ServerStats
	if err := c.call(ctx, MethodServerStats, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// call performs a JSON-RPC 2.0 call over HTTP POST.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc: marshal params: %w", err)
		}
		paramsJSON = data
	}

	body, err := json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("rpc: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return &RPCError{
			Method:  method,
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("rpc: decode result: %w", err)
		}
	}
	return nil
}
