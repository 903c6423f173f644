package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/config"
	"github.com/dusk-indust/codegnn/internal/embedstore"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// app carries the state shared by every subcommand.
type app struct {
	projectRoot string
	verbose     bool

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	cfg    *config.ProjectConfig
}

// rootCmd creates the codegnn command tree.
func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "codegnn",
		Short: "Semantic embeddings for source code graphs",
		Long: `codegnn parses source files into code graphs and compresses each graph
into a fixed-width embedding with a GraphSAGE / GAT model.

Examples:
  codegnn init                      # write codegnn.yml and .mcp.json
  codegnn parse ./internal          # parse and summarise code graphs
  codegnn compress main.go          # print one file's embedding
  codegnn compress . --index idx.json
  codegnn search main.go --index idx.json
  codegnn serve --addr :8080        # JSON-RPC inference server`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVarP(&a.projectRoot, "project-root", "C", ".", "project directory holding codegnn.yml")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		parseCmd(a),
		compressCmd(a),
		trainCmd(a),
		searchCmd(a),
		serveCmd(a),
		mcpCmd(a),
		infoCmd(a),
		initCmd(a),
	)
	return cmd
}

// load reads the project config and builds the logger.
func (a *app) load() error {
	cfg, err := config.Load(a.projectRoot)
	if err != nil {
		return err
	}
	if cfg.Path == "" {
		// Defaults still resolve relative paths against the project root.
		cfg.Path = filepath.Join(a.projectRoot, config.FileNames[0])
	}
	a.cfg = cfg

	level := slog.LevelInfo
	if a.verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// engine builds the compressor, opens the embedding store when enabled and
// joins them. The returned close function releases the store.
func (a *app) engine() (*inference.Engine, func() error, error) {
	comp, err := a.cfg.NewCompressor()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.cfg.OpenStore(a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open embedding store: %w", err)
	}
	closeFn := func() error { return nil }
	if store != nil {
		closeFn = store.Close
	}
	return a.cfg.NewEngine(comp, store, a.logger), closeFn, nil
}

// openStore opens the embedding store for commands that only inspect it.
func (a *app) openStore() (*embedstore.Store, error) {
	return a.cfg.OpenStore(a.logger)
}

// readGraphs loads path as a graph JSON file, one source file, or a
// directory of source files.
func (a *app) readGraphs(cmd *cobra.Command, parser graph.Parser, path string) ([]*graph.CodeGraph, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		graphs, err := graph.Walk(cmd.Context(), path, parser, a.cfg.WalkOptions(a.logger))
		if err != nil {
			return nil, err
		}
		if len(graphs) == 0 {
			return nil, fmt.Errorf("no supported source files under %s: %w", path, compress.ErrEmptyCodebase)
		}
		return graphs, nil
	}
	if filepath.Ext(path) == ".json" {
		g, err := graph.ReadGraphFile(path)
		if err != nil {
			return nil, err
		}
		return []*graph.CodeGraph{g}, nil
	}
	g, err := parseFile(cmd, parser, path)
	if err != nil {
		return nil, err
	}
	return []*graph.CodeGraph{g}, nil
}

// inputGraphs reads the graphs a command works on: the stored graphs when
// stored is set, otherwise the single path argument.
func (a *app) inputGraphs(cmd *cobra.Command, args []string, stored bool) ([]*graph.CodeGraph, error) {
	if stored {
		if len(args) > 0 {
			return nil, errors.New("--stored takes no path argument")
		}
		return a.storedGraphs(cmd.Context())
	}
	if len(args) != 1 {
		return nil, errors.New("a path argument is required")
	}
	parser := graph.NewTreeSitterParser()
	defer parser.Close()
	return a.readGraphs(cmd, parser, args[0])
}

// storedGraphs loads every graph from the configured graph database, in
// path order.
func (a *app) storedGraphs(ctx context.Context) ([]*graph.CodeGraph, error) {
	store, err := a.cfg.OpenGraphStore()
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	defer store.Close()

	paths, err := store.ListGraphs(ctx)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("graph store is empty, run \"codegnn parse --store\" first: %w", compress.ErrEmptyCodebase)
	}
	graphs := make([]*graph.CodeGraph, 0, len(paths))
	for _, p := range paths {
		g, err := store.GetGraph(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("load stored graph %s: %w", p, err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func parseFile(cmd *cobra.Command, parser graph.Parser, path string) (*graph.CodeGraph, error) {
	lang, ok := graph.ExtToLanguage[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnsupportedLanguage, path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parser.Parse(cmd.Context(), filepath.ToSlash(path), source, lang)
}
