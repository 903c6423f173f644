//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Store interface using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given directory path, so parsed graphs survive across runs.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	// KuzuDB creates the leaf directory itself.
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS CodeFile(
		path STRING,
		language STRING,
		PRIMARY KEY(path)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS CodeElement(
		id STRING,
		file_path STRING,
		idx INT64,
		element_type STRING,
		name STRING,
		language STRING,
		start_line INT64,
		end_line INT64,
		complexity INT64,
		dependencies STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS LINKS(
		FROM CodeElement TO CodeElement,
		kind STRING,
		weight DOUBLE,
		seq INT64
	)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// depSep joins dependency names in a single STRING column.
const depSep = "\x1f"

// ---------- Write operations ----------

// PutGraph replaces the stored graph for g.FilePath.
func (s *KuzuStore) PutGraph(ctx context.Context, g *CodeGraph) error {
	if g == nil {
		return fmt.Errorf("kuzu: put graph: nil graph")
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("kuzu: put graph %s: %w", g.FilePath, err)
	}
	if err := s.DeleteGraph(ctx, g.FilePath); err != nil {
		return err
	}

	if err := s.exec(
		"CREATE (f:CodeFile {path: $path, language: $lang})",
		map[string]any{"path": g.FilePath, "lang": string(g.Language)},
	); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.exec(
			`CREATE (e:CodeElement {
				id: $id,
				file_path: $path,
				idx: $idx,
				element_type: $et,
				name: $name,
				language: $lang,
				start_line: $start,
				end_line: $end,
				complexity: $cx,
				dependencies: $deps
			})`,
			map[string]any{
				"id":    elementID(g.FilePath, n.ID),
				"path":  g.FilePath,
				"idx":   int64(n.ID),
				"et":    string(n.ElementType),
				"name":  n.Name,
				"lang":  string(n.Language),
				"start": int64(n.StartLine),
				"end":   int64(n.EndLine),
				"cx":    int64(n.Complexity),
				"deps":  strings.Join(n.Dependencies, depSep),
			},
		)
		if err != nil {
			return fmt.Errorf("kuzu: add element %d of %s: %w", n.ID, g.FilePath, err)
		}
	}

	for i, e := range g.Edges {
		err := s.exec(
			`MATCH (a:CodeElement {id: $src}), (b:CodeElement {id: $dst})
			 CREATE (a)-[:LINKS {kind: $kind, weight: $w, seq: $seq}]->(b)`,
			map[string]any{
				"src":  elementID(g.FilePath, e.Source),
				"dst":  elementID(g.FilePath, e.Target),
				"kind": string(e.Kind),
				"w":    float64(e.Weight),
				"seq":  int64(i),
			},
		)
		if err != nil {
			return fmt.Errorf("kuzu: add edge %d->%d of %s: %w", e.Source, e.Target, g.FilePath, err)
		}
	}
	return nil
}

// DeleteGraph removes a file and all of its elements and links.
func (s *KuzuStore) DeleteGraph(_ context.Context, path string) error {
	if err := s.exec(
		"MATCH (e:CodeElement {file_path: $path}) DETACH DELETE e",
		map[string]any{"path": path},
	); err != nil {
		return err
	}
	return s.exec(
		"MATCH (f:CodeFile {path: $path}) DELETE f",
		map[string]any{"path": path},
	)
}

// ---------- Read operations ----------

// GetGraph rebuilds the graph stored for path.
func (s *KuzuStore) GetGraph(_ context.Context, path string) (*CodeGraph, error) {
	rows, err := s.query(
		"MATCH (f:CodeFile {path: $path}) RETURN f.language",
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, path)
	}
	g := NewCodeGraph(path, Language(toString(rows[0][0])))

	rows, err = s.query(
		`MATCH (e:CodeElement {file_path: $path})
		 RETURN e.idx, e.element_type, e.name, e.language, e.start_line, e.end_line, e.complexity, e.dependencies
		 ORDER BY e.idx`,
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		n := CodeNode{
			ElementType: ElementType(toString(r[1])),
			Name:        toString(r[2]),
			Language:    Language(toString(r[3])),
			StartLine:   toInt(r[4]),
			EndLine:     toInt(r[5]),
			Complexity:  toInt(r[6]),
		}
		if deps := toString(r[7]); deps != "" {
			n.Dependencies = strings.Split(deps, depSep)
		}
		if id := g.AddNode(n); id != toInt(r[0]) {
			return nil, fmt.Errorf("kuzu: graph %s has a gap at element %d", path, id)
		}
	}

	rows, err = s.query(
		`MATCH (a:CodeElement {file_path: $path})-[r:LINKS]->(b:CodeElement)
		 RETURN a.idx, b.idx, r.kind, r.weight
		 ORDER BY r.seq`,
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		g.AddEdge(toInt(r[0]), toInt(r[1]), EdgeKind(toString(r[2])), float32(toFloat64(r[3])))
	}
	return g, nil
}

// ListGraphs returns every stored file path in ascending order.
func (s *KuzuStore) ListGraphs(_ context.Context) ([]string, error) {
	rows, err := s.query("MATCH (f:CodeFile) RETURN f.path ORDER BY f.path", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	return out, nil
}

// Stats returns graph, element, and link counts.
func (s *KuzuStore) Stats(_ context.Context) (*GraphStats, error) {
	stats := &GraphStats{Languages: make(map[string]int)}
	var err error
	if stats.GraphCount, err = s.count("MATCH (f:CodeFile) RETURN count(f)"); err != nil {
		return nil, err
	}
	if stats.NodeCount, err = s.count("MATCH (e:CodeElement) RETURN count(e)"); err != nil {
		return nil, err
	}
	if stats.EdgeCount, err = s.count("MATCH ()-[r:LINKS]->() RETURN count(r)"); err != nil {
		return nil, err
	}
	rows, err := s.query("MATCH (f:CodeFile) RETURN f.language, count(f)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if lang := toString(r[0]); lang != "" {
			stats.Languages[lang] = toInt(r[1])
		}
	}
	return stats, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func (s *KuzuStore) count(cypher string) (int, error) {
	rows, err := s.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// elementID produces the primary key of an element: "filePath#index".
func elementID(filePath string, idx int) string {
	return fmt.Sprintf("%s#%d", filePath, idx)
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
