package rpcserver

import (
	"encoding/json"
	"fmt"

	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	// ErrCodeEmptyIndex is returned by embedding/search on an empty index.
	ErrCodeEmptyIndex = -32001
)

// Method names.
const (
	MethodInfer       = "embedding/infer"
	MethodIndex       = "embedding/index"
	MethodSearch      = "embedding/search"
	MethodCacheStats  = "cache/stats"
	MethodCacheClear  = "cache/clear"
	MethodServerStats = "server/stats"
)

// RPCError is a JSON-RPC error returned to a Client.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: code %d: %s", e.Method, e.Code, e.Message)
}

// GraphInput names a graph either directly or as source to parse on the
// server. Graph wins when both are set.
type GraphInput struct {
	Graph    *graph.CodeGraph `json:"graph,omitempty"`
	Path     string           `json:"path,omitempty"`
	Language graph.Language   `json:"language,omitempty"`
	Source   string           `json:"source,omitempty"`
}

// InferParams are the params of embedding/infer.
type InferParams struct {
	GraphInput
}

// IndexParams are the params of embedding/index.
type IndexParams struct {
	Inputs []GraphInput `json:"inputs"`
}

// IndexResult reports the index after embedding/index.
type IndexResult struct {
	Indexed int `json:"indexed"`
	Size    int `json:"size"`
}

// SearchParams are the params of embedding/search. Vector wins over the
// graph input when set.
type SearchParams struct {
	GraphInput
	Vector []float32 `json:"vector,omitempty"`
	K      int       `json:"k"`
}

// SearchResult lists matches by descending score.
type SearchResult struct {
	Matches []inference.Match `json:"matches"`
}

// CacheStatsResult is the result of cache/stats.
type CacheStatsResult struct {
	Entries int             `json:"entries"`
	Floats  int             `json:"floats"`
	Engine  inference.Stats `json:"engine"`
}

// CacheClearResult is the result of cache/clear.
type CacheClearResult struct {
	Cleared int `json:"cleared"`
}
