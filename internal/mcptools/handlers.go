package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// DefaultK is the number of matches search_similar returns when k is unset.
const DefaultK = 10

// ErrEmptyIndex is returned by search_similar before anything is indexed.
var ErrEmptyIndex = errors.New("index is empty; run index_repository first")

// Service holds the engine, parser and index used by the tool handlers.
type Service struct {
	engine *inference.Engine
	parser graph.Parser
	search *inference.SimilaritySearch
	store  graph.Store
	root   string
	walk   graph.WalkOptions
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGraphStore persists every graph index_repository reads.
func WithGraphStore(s graph.Store) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

// WithRoot resolves relative paths against root.
func WithRoot(root string) ServiceOption {
	return func(svc *Service) { svc.root = root }
}

// WithWalkOptions sets the defaults for repository tools. Per-call
// languages and exclusions replace them.
func WithWalkOptions(o graph.WalkOptions) ServiceOption {
	return func(svc *Service) { svc.walk = o }
}

// WithSearch shares an existing index.
func WithSearch(idx *inference.SimilaritySearch) ServiceOption {
	return func(svc *Service) { svc.search = idx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(svc *Service) { svc.logger = l }
}

// NewService creates a Service.
func NewService(engine *inference.Engine, parser graph.Parser, opts ...ServiceOption) *Service {
	s := &Service{engine: engine, parser: parser, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = inference.NewSimilaritySearch(engine)
	}
	s.walk.Logger = s.logger
	return s
}

// Search returns the index search_similar reads.
func (s *Service) Search() *inference.SimilaritySearch { return s.search }

// CompressFile parses one file and returns its embedding.
func (s *Service) CompressFile(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CompressFileInput,
) (*mcp.CallToolResult, CompressFileOutput, error) {
	if input.Path == "" {
		return nil, CompressFileOutput{}, fmt.Errorf("path is required")
	}
	g, err := s.parseFile(ctx, input.Path, input.Language)
	if err != nil {
		return nil, CompressFileOutput{}, err
	}
	res, err := s.engine.Infer(ctx, g)
	if err != nil {
		return nil, CompressFileOutput{}, fmt.Errorf("infer %s: %w", input.Path, err)
	}
	return nil, CompressFileOutput{
		Path:       res.FilePath,
		Dim:        len(res.Embedding),
		Embedding:  res.Embedding,
		Cached:     res.Cached,
		Degenerate: res.Degenerate,
		Metadata:   res.Metadata,
	}, nil
}

// CompressRepository embeds every supported file of a repository and
// returns the codebase embedding.
func (s *Service) CompressRepository(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RepositoryInput,
) (*mcp.CallToolResult, CompressRepositoryOutput, error) {
	graphs, err := s.walkRepo(ctx, input)
	if err != nil {
		return nil, CompressRepositoryOutput{}, err
	}
	emb, err := s.engine.InferCodebase(ctx, graphs)
	if err != nil {
		return nil, CompressRepositoryOutput{}, fmt.Errorf("compress %s: %w", input.RepoPath, err)
	}
	return nil, CompressRepositoryOutput{
		Files:      len(graphs),
		Dim:        emb.Dim(),
		Embedding:  emb.Vector,
		Degenerate: emb.Degenerate,
		Metadata:   emb.Metadata,
	}, nil
}

// IndexRepository adds every supported file of a repository to the
// similarity index, and to the graph store when one is configured.
func (s *Service) IndexRepository(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RepositoryInput,
) (*mcp.CallToolResult, IndexRepositoryOutput, error) {
	graphs, err := s.walkRepo(ctx, input)
	if err != nil {
		return nil, IndexRepositoryOutput{}, err
	}

	var out IndexRepositoryOutput
	if s.store != nil {
		if err := s.store.InitSchema(ctx); err != nil {
			return nil, out, fmt.Errorf("init schema: %w", err)
		}
		for _, g := range graphs {
			if err := s.store.PutGraph(ctx, g); err != nil {
				return nil, out, fmt.Errorf("store graph %s: %w", g.FilePath, err)
			}
			out.Stored++
		}
	}

	before := s.search.Size()
	if err := s.search.IndexGraphs(ctx, graphs); err != nil {
		return nil, out, fmt.Errorf("index %s: %w", input.RepoPath, err)
	}
	out.Size = s.search.Size()
	out.Indexed = out.Size - before
	s.logger.Info("indexed repository",
		slog.String("repo", input.RepoPath),
		slog.Int("files", out.Indexed),
		slog.Int("size", out.Size),
	)
	return nil, out, nil
}

// SearchSimilar returns the indexed files most similar to the query.
func (s *Service) SearchSimilar(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchSimilarInput,
) (*mcp.CallToolResult, SearchSimilarOutput, error) {
	k := input.K
	if k < 0 {
		return nil, SearchSimilarOutput{}, fmt.Errorf("k must not be negative, got %d", k)
	}
	if k == 0 {
		k = DefaultK
	}
	if s.search.Size() == 0 {
		return nil, SearchSimilarOutput{}, ErrEmptyIndex
	}

	var (
		g   *graph.CodeGraph
		err error
	)
	switch {
	case input.Source != "":
		g, err = s.parse(ctx, input.Path, []byte(input.Source), input.Language)
	case input.Path != "":
		g, err = s.parseFile(ctx, input.Path, input.Language)
	default:
		err = fmt.Errorf("path or source is required")
	}
	if err != nil {
		return nil, SearchSimilarOutput{}, err
	}

	matches, err := s.search.Search(ctx, g, k)
	if err != nil {
		return nil, SearchSimilarOutput{}, fmt.Errorf("search: %w", err)
	}
	if matches == nil {
		matches = []inference.Match{}
	}
	return nil, SearchSimilarOutput{Matches: matches}, nil
}

// CacheStats reports the engine cache and index size.
func (s *Service) CacheStats(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ CacheStatsInput,
) (*mcp.CallToolResult, CacheStatsOutput, error) {
	entries, floats := s.engine.CacheStats()
	return nil, CacheStatsOutput{
		Entries:   entries,
		Floats:    floats,
		IndexSize: s.search.Size(),
		Engine:    s.engine.Stats(),
	}, nil
}

func (s *Service) resolve(p string) string {
	if s.root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.root, p)
}

func (s *Service) parseFile(ctx context.Context, path, language string) (*graph.CodeGraph, error) {
	source, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.parse(ctx, path, source, language)
}

func (s *Service) parse(ctx context.Context, path string, source []byte, language string) (*graph.CodeGraph, error) {
	lang := graph.Language(strings.ToLower(language))
	if lang == "" {
		lang = graph.ExtToLanguage[filepath.Ext(path)]
	}
	if lang == "" {
		return nil, fmt.Errorf("%w: cannot infer language of %q", graph.ErrUnsupportedLanguage, path)
	}
	g, err := s.parser.Parse(ctx, filepath.ToSlash(path), source, lang)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return g, nil
}

func (s *Service) walkRepo(ctx context.Context, input RepositoryInput) ([]*graph.CodeGraph, error) {
	if input.RepoPath == "" {
		return nil, fmt.Errorf("repoPath is required")
	}
	opts := s.walk
	if len(input.Languages) > 0 {
		opts.Languages = make([]graph.Language, len(input.Languages))
		for i, l := range input.Languages {
			opts.Languages[i] = graph.Language(strings.ToLower(l))
		}
	}
	if len(input.ExcludeDirs) > 0 {
		opts.ExcludeDirs = input.ExcludeDirs
	}
	graphs, err := graph.Walk(ctx, s.resolve(input.RepoPath), s.parser, opts)
	if err != nil {
		return nil, err
	}
	return graphs, nil
}
