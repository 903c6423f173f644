package mcptools

import (
	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/inference"
)

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK derives each tool's JSON schema from these structs.

// CompressFileInput is the input for the compress_file tool.
type CompressFileInput struct {
	Path     string `json:"path" jsonschema:"path of the source file to embed"`
	Language string `json:"language,omitempty" jsonschema:"source language (default: from the file extension). Values: go, typescript, python, rust"`
}

// CompressFileOutput is the result of the compress_file tool.
type CompressFileOutput struct {
	Path       string             `json:"path"`
	Dim        int                `json:"dim"`
	Embedding  []float32          `json:"embedding"`
	Cached     bool               `json:"cached"`
	Degenerate bool               `json:"degenerate,omitempty"`
	Metadata   *compress.Metadata `json:"metadata,omitempty"`
}

// RepositoryInput selects the files of a repository.
type RepositoryInput struct {
	RepoPath    string   `json:"repoPath" jsonschema:"the path of the repository to read"`
	Languages   []string `json:"languages,omitempty" jsonschema:"languages to include (default: all supported). Values: go, typescript, python, rust"`
	ExcludeDirs []string `json:"excludeDirs,omitempty" jsonschema:"directory names to skip (e.g. vendor, node_modules)"`
}

// CompressRepositoryOutput is the result of the compress_repository tool.
type CompressRepositoryOutput struct {
	Files      int                `json:"files"`
	Dim        int                `json:"dim"`
	Embedding  []float32          `json:"embedding"`
	Degenerate bool               `json:"degenerate,omitempty"`
	Metadata   *compress.Metadata `json:"metadata,omitempty"`
}

// IndexRepositoryOutput is the result of the index_repository tool.
type IndexRepositoryOutput struct {
	Indexed int `json:"indexed"`
	Size    int `json:"size"`
	Stored  int `json:"stored,omitempty"`
}

// SearchSimilarInput is the input for the search_similar tool.
type SearchSimilarInput struct {
	Path     string `json:"path,omitempty" jsonschema:"source file to use as the query"`
	Source   string `json:"source,omitempty" jsonschema:"source text to use as the query instead of reading path"`
	Language string `json:"language,omitempty" jsonschema:"language of the query (default: from the path extension)"`
	K        int    `json:"k,omitempty" jsonschema:"number of matches to return (default: 10)"`
}

// SearchSimilarOutput is the result of the search_similar tool.
type SearchSimilarOutput struct {
	Matches []inference.Match `json:"matches"`
}

// CacheStatsInput is the input for the cache_stats tool.
type CacheStatsInput struct{}

// CacheStatsOutput is the result of the cache_stats tool.
type CacheStatsOutput struct {
	Entries   int             `json:"entries"`
	Floats    int             `json:"floats"`
	IndexSize int             `json:"indexSize"`
	Engine    inference.Stats `json:"engine"`
}
