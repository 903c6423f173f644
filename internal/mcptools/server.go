// Package mcptools exposes code compression and similarity search as MCP
// tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the codegnn tools registered.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "codegnn",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "compress_file",
		Description: "Parse one source file into a code graph and return its fixed-width semantic embedding.",
	}, svc.CompressFile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "compress_repository",
		Description: "Embed every supported source file of a repository and return the normalized mean as one codebase embedding.",
	}, svc.CompressRepository)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_repository",
		Description: "Embed every supported source file of a repository and add it to the similarity index used by search_similar.",
	}, svc.IndexRepository)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_similar",
		Description: "Return the indexed files whose embeddings are most similar (cosine) to a query file or source snippet.",
	}, svc.SearchSimilar)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report embedding cache occupancy, hit and miss counters, and the similarity index size.",
	}, svc.CacheStats)

	return server
}

// RunStdio serves the tools on stdio, blocking until stdin is closed or
// ctx is cancelled.
func RunStdio(ctx context.Context, svc *Service) error {
	return NewMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the tools over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, svc *Service, addr string) error {
	server := NewMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
