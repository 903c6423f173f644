package graph

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// WalkOptions controls which files Walk parses.
type WalkOptions struct {
	// Languages restricts parsing; empty means Tier1Languages.
	Languages []Language
	// ExcludeDirs are directory base names to skip (".git" is always skipped).
	ExcludeDirs []string
	Logger      *slog.Logger
}

// Walk parses every supported source file under root and returns one graph
// per file, with paths relative to root, in lexical walk order.
// Unreadable and unparseable files are skipped and logged at debug level.
func Walk(ctx context.Context, root string, parser Parser, opts WalkOptions) ([]*CodeGraph, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[Language]bool)
	langs := opts.Languages
	if len(langs) == 0 {
		langs = Tier1Languages
	}
	for _, l := range langs {
		allowed[Language(strings.ToLower(string(l)))] = true
	}

	exclude := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		exclude[d] = true
	}

	var graphs []*CodeGraph
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (name == ".git" || exclude[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		lang, ok := ExtToLanguage[filepath.Ext(path)]
		if !ok || !allowed[lang] {
			return nil
		}

		source, err := os.ReadFile(path)
		if err != nil {
			logger.Debug("skip unreadable file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		g, err := parser.Parse(ctx, relPath, source, lang)
		if err != nil {
			logger.Debug("skip unparseable file", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil
		}
		graphs = append(graphs, g)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	logger.Debug("walked repository", slog.String("root", root), slog.Int("files", len(graphs)))
	return graphs, nil
}

// LoadGraphs parses root with parser and stores every graph in store.
// It returns the stored graphs.
func LoadGraphs(ctx context.Context, root string, parser Parser, store Store, opts WalkOptions) ([]*CodeGraph, error) {
	graphs, err := Walk(ctx, root, parser, opts)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	for _, g := range graphs {
		if err := store.PutGraph(ctx, g); err != nil {
			return nil, fmt.Errorf("store graph %s: %w", g.FilePath, err)
		}
	}
	return graphs, nil
}
