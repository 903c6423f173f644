package main

import (
	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/mcptools"
)

func mcpCmd(a *app) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the embedding tools over the Model Context Protocol",
		Long: `Expose compress_file, compress_repository, index_repository,
search_similar and cache_stats as MCP tools. The server speaks stdio by
default, or streamable HTTP with --http.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeStore, err := a.engine()
			if err != nil {
				return err
			}
			defer closeStore()

			graphs, err := a.cfg.OpenGraphStore()
			if err != nil {
				return err
			}
			defer graphs.Close()

			parser := graph.NewTreeSitterParser()
			defer parser.Close()

			svc := mcptools.NewService(engine, parser,
				mcptools.WithRoot(a.cfg.Dir()),
				mcptools.WithGraphStore(graphs),
				mcptools.WithWalkOptions(a.cfg.WalkOptions(a.logger)),
				mcptools.WithLogger(a.logger),
			)
			if httpAddr != "" {
				a.logger.Info("serving mcp over http", "addr", httpAddr)
				return mcptools.RunHTTP(cmd.Context(), svc, httpAddr)
			}
			return mcptools.RunStdio(cmd.Context(), svc)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
