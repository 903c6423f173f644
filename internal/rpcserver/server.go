// Package rpcserver exposes an inference engine as a JSON-RPC 2.0 service
// over HTTP, with health and Prometheus endpoints alongside.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// DefaultSearchK is used when a search request leaves k at zero.
const DefaultSearchK = 10

// DefaultMaxRequestBytes caps a JSON-RPC request body.
const DefaultMaxRequestBytes = 8 << 20

// errEmptyIndex is reported with ErrCodeEmptyIndex.
var errEmptyIndex = errors.New("the similarity index is empty")

// paramError marks a request the client must fix.
type paramError struct{ err error }

func (e paramError) Error() string { return e.err.Error() }
func (e paramError) Unwrap() error { return e.err }

func invalidParams(format string, args ...any) error {
	return paramError{fmt.Errorf(format, args...)}
}

// Server serves a ModelServer and its similarity index.
type Server struct {
	models  *inference.ModelServer
	search  *inference.SimilaritySearch
	parser  graph.Parser
	metrics http.Handler
	logger  *slog.Logger
	http    *http.Server

	maxRequestBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithParser lets requests send source text instead of a parsed graph.
func WithParser(p graph.Parser) Option {
	return func(s *Server) { s.parser = p }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSearch serves an existing index instead of a new empty one.
func WithSearch(idx *inference.SimilaritySearch) Option {
	return func(s *Server) { s.search = idx }
}

// WithMaxRequestBytes caps request bodies at n bytes. Larger requests get
// an invalid request error without being decoded.
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) { s.maxRequestBytes = n }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server for models.
func NewServer(models *inference.ModelServer, opts ...Option) *Server {
	s := &Server{models: models, logger: slog.Default(), maxRequestBytes: DefaultMaxRequestBytes}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = inference.NewSimilaritySearch(models.Engine())
	}
	return s
}

// Search returns the served index.
func (s *Server) Search() *inference.SimilaritySearch { return s.search }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleJSONRPC)
	mux.HandleFunc("POST /{$}", s.handleJSONRPC)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.logRequests(mux)
}

// Start listens on addr and serves in a background goroutine. It returns
// the bound address, which differs from addr when addr uses port 0.
func (s *Server) Start(_ context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("rpcserver: listen %s: %w", addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("rpc server listening", slog.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"model":      s.models.Version(),
		"output_dim": s.models.Engine().OutputDim(),
	})
}

// handleJSONRPC decodes a JSON-RPC 2.0 request and dispatches it by method.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, nil, ErrCodeInvalidRequest, fmt.Sprintf("Invalid request: body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, nil, ErrCodeParse, "Parse error: "+err.Error())
		return
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		writeError(w, req.ID, ErrCodeInvalidRequest, "Invalid request")
		return
	}

	ctx := r.Context()
	switch req.Method {
	case MethodInfer:
		dispatch(ctx, w, &req, s.infer)
	case MethodIndex:
		dispatch(ctx, w, &req, s.index)
	case MethodSearch:
		dispatch(ctx, w, &req, s.searchSimilar)
	case MethodCacheStats:
		dispatch(ctx, w, &req, s.cacheStats)
	case MethodCacheClear:
		dispatch(ctx, w, &req, s.cacheClear)
	case MethodServerStats:
		dispatch(ctx, w, &req, s.serverStats)
	default:
		writeError(w, req.ID, ErrCodeMethodNotFound, "Method not found: "+req.Method)
	}
}

// dispatch unmarshals params into P, runs fn, and writes the result or
// the error mapped to a JSON-RPC code.
func dispatch[P, R any](ctx context.Context, w http.ResponseWriter, req *Request, fn func(context.Context, P) (R, error)) {
	var params P
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
			return
		}
	}
	result, err := fn(ctx, params)
	if err != nil {
		var pe paramError
		switch {
		case errors.As(err, &pe):
			writeError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
		case errors.Is(err, errEmptyIndex):
			writeError(w, req.ID, ErrCodeEmptyIndex, err.Error())
		default:
			writeError(w, req.ID, ErrCodeInternal, err.Error())
		}
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) infer(ctx context.Context, p InferParams) (*inference.Result, error) {
	g, err := s.resolve(ctx, p.GraphInput)
	if err != nil {
		return nil, err
	}
	return s.models.HandleRequest(ctx, g)
}

func (s *Server) index(ctx context.Context, p IndexParams) (*IndexResult, error) {
	s.models.CountRequest()
	if len(p.Inputs) == 0 {
		return nil, invalidParams("inputs must not be empty")
	}
	graphs := make([]*graph.CodeGraph, len(p.Inputs))
	for i, in := range p.Inputs {
		g, err := s.resolve(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		graphs[i] = g
	}
	before := s.search.Size()
	if err := s.search.IndexGraphs(ctx, graphs); err != nil {
		return nil, err
	}
	size := s.search.Size()
	return &IndexResult{Indexed: size - before, Size: size}, nil
}

func (s *Server) searchSimilar(ctx context.Context, p SearchParams) (*SearchResult, error) {
	s.models.CountRequest()
	k := p.K
	if k < 0 {
		return nil, invalidParams("k must not be negative, got %d", k)
	}
	if k == 0 {
		k = DefaultSearchK
	}
	if s.search.Size() == 0 {
		return nil, errEmptyIndex
	}

	if len(p.Vector) > 0 {
		if dim := s.models.Engine().OutputDim(); len(p.Vector) != dim {
			return nil, invalidParams("%v: vector has %d values, index holds %d", compress.ErrDimensionMismatch, len(p.Vector), dim)
		}
		return &SearchResult{Matches: nonNil(s.search.SearchVector(p.Vector, k))}, nil
	}

	g, err := s.resolve(ctx, p.GraphInput)
	if err != nil {
		return nil, err
	}
	matches, err := s.search.Search(ctx, g, k)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Matches: nonNil(matches)}, nil
}

func (s *Server) cacheStats(_ context.Context, _ struct{}) (*CacheStatsResult, error) {
	s.models.CountRequest()
	e := s.models.Engine()
	entries, floats := e.CacheStats()
	return &CacheStatsResult{Entries: entries, Floats: floats, Engine: e.Stats()}, nil
}

func (s *Server) cacheClear(_ context.Context, _ struct{}) (*CacheClearResult, error) {
	s.models.CountRequest()
	e := s.models.Engine()
	entries, _ := e.CacheStats()
	e.ClearCache()
	return &CacheClearResult{Cleared: entries}, nil
}

func (s *Server) serverStats(_ context.Context, _ struct{}) (*inference.ServerStats, error) {
	stats := s.models.Stats()
	return &stats, nil
}

// resolve turns a GraphInput into a validated graph, parsing source when
// no graph is given.
func (s *Server) resolve(ctx context.Context, in GraphInput) (*graph.CodeGraph, error) {
	if in.Graph != nil {
		if err := in.Graph.Validate(); err != nil {
			return nil, invalidParams("graph: %v", err)
		}
		if in.Graph.FilePath == "" {
			in.Graph.FilePath = in.Path
		}
		return in.Graph, nil
	}
	if in.Source == "" {
		return nil, invalidParams("either graph or source is required")
	}
	if s.parser == nil {
		return nil, invalidParams("this server does not parse source; send a graph")
	}
	lang := in.Language
	if lang == "" {
		lang = graph.ExtToLanguage[filepath.Ext(in.Path)]
	}
	if lang == "" {
		return nil, invalidParams("language is required for %q", in.Path)
	}
	g, err := s.parser.Parse(ctx, in.Path, []byte(in.Source), lang)
	if errors.Is(err, graph.ErrUnsupportedLanguage) {
		return nil, invalidParams("%v", err)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", in.Path, err)
	}
	return g, nil
}

func nonNil(m []inference.Match) []inference.Match {
	if m == nil {
		return []inference.Match{}
	}
	return m
}

// writeResult writes a successful JSON-RPC response.
func writeResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeError(w, id, ErrCodeInternal, "Failed to marshal result: "+err.Error())
		return
	}
	json.NewEncoder(w).Encode(Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id any, code int, message string) {
	json.NewEncoder(w).Encode(Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	})
}
