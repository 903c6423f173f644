// Package export writes similarity indexes as JSON and renders code graphs
// as Mermaid diagrams.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dusk-indust/codegnn/internal/inference"
)

// ErrModelMismatch is returned when an index export was produced by a
// different model than the one loading it.
var ErrModelMismatch = errors.New("index was built by a different model")

// IndexExport is the top-level JSON export of a similarity index.
type IndexExport struct {
	ModelID    string        `json:"modelId"`
	Dim        int           `json:"dim"`
	ExportedAt string        `json:"exportedAt"`
	Entries    []EntryExport `json:"entries"`
}

// EntryExport is one indexed embedding.
type EntryExport struct {
	Path   string    `json:"path"`
	Vector []float32 `json:"vector"`
}

// ExportIndex snapshots idx, tagging it with the id of the model that
// produced the vectors.
func ExportIndex(idx *inference.SimilaritySearch, modelID string, dim int) *IndexExport {
	export := &IndexExport{
		ModelID:    modelID,
		Dim:        dim,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Entries:    []EntryExport{},
	}
	for _, e := range idx.Entries() {
		export.Entries = append(export.Entries, EntryExport{Path: e.Path, Vector: e.Vector})
	}
	return export
}

// LoadIndex adds every entry of export to idx. An empty modelID skips the
// model check.
func LoadIndex(idx *inference.SimilaritySearch, export *IndexExport, modelID string) error {
	if modelID != "" && export.ModelID != "" && export.ModelID != modelID {
		return fmt.Errorf("%w: index %s, model %s", ErrModelMismatch, export.ModelID, modelID)
	}
	for _, e := range export.Entries {
		if err := idx.Add(e.Path, e.Vector); err != nil {
			return err
		}
	}
	return nil
}

// WriteIndex encodes export as indented JSON.
func WriteIndex(w io.Writer, export *IndexExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return nil
}

// ReadIndex decodes an index written by WriteIndex.
func ReadIndex(r io.Reader) (*IndexExport, error) {
	var export IndexExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	for i, e := range export.Entries {
		if len(e.Vector) != export.Dim {
			return nil, fmt.Errorf("decode index: entry %d (%s) has %d values, want %d", i, e.Path, len(e.Vector), export.Dim)
		}
	}
	return &export, nil
}

// WriteIndexFile writes export to path, creating parent directories.
func WriteIndexFile(path string, export *IndexExport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := WriteIndex(f, export); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadIndexFile reads an index written by WriteIndexFile.
func ReadIndexFile(path string) (*IndexExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	return ReadIndex(f)
}
