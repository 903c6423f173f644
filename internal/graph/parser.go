package graph

import (
	"context"
	"errors"
)

// ErrUnsupportedLanguage is returned when no grammar is registered for a
// language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Parser turns one source file into a CodeGraph.
// Implementations: TreeSitterParser (production), test stubs.
type Parser interface {
	// Parse builds the code graph of a single source file. source is the
	// file content; lang selects the grammar.
	Parse(ctx context.Context, path string, source []byte, lang Language) (*CodeGraph, error)

	// SupportedLanguages returns the languages this parser can handle.
	SupportedLanguages() []Language

	// Close releases parser resources.
	Close() error
}
