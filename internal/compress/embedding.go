package compress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// ErrCorruptEmbedding is returned when an encoded embedding cannot be read.
var ErrCorruptEmbedding = errors.New("corrupt embedding")

// Metadata describes the graph (or graphs) behind an embedding.
type Metadata struct {
	FilePath    string         `json:"file_path,omitempty" msgpack:"file_path,omitempty"`
	Language    string         `json:"language,omitempty" msgpack:"language,omitempty"`
	GraphCount  int            `json:"graph_count" msgpack:"graph_count"`
	NodeCount   int            `json:"node_count" msgpack:"node_count"`
	EdgeCount   int            `json:"edge_count" msgpack:"edge_count"`
	Languages   map[string]int `json:"languages,omitempty" msgpack:"languages,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty" msgpack:"fingerprint,omitempty"`
}

// ProjectEmbedding is a fixed-length embedding with optional metadata.
// Degenerate marks a vector whose norm was too small to normalize.
type ProjectEmbedding struct {
	Vector     []float32 `json:"vector" msgpack:"vector"`
	Metadata   *Metadata `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Degenerate bool      `json:"degenerate,omitempty" msgpack:"degenerate,omitempty"`
}

// Dim returns the vector length.
func (e *ProjectEmbedding) Dim() int { return len(e.Vector) }

// Format selects an embedding encoding.
type Format string

const (
	FormatJSON Format = "json"
	// FormatBinary is msgpack with the vector and metadata.
	FormatBinary Format = "binary"
	// FormatVector is a bare msgpack float array.
	FormatVector Format = "vector"
)

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json", "":
		return FormatJSON, nil
	case "binary", "bin", "msgpack", "mp":
		return FormatBinary, nil
	case "vector", "vec":
		return FormatVector, nil
	}
	return "", fmt.Errorf("unknown embedding format %q", s)
}

// EncodeJSON writes e as indented JSON.
func EncodeJSON(w io.Writer, e *ProjectEmbedding) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode embedding json: %w", err)
	}
	return nil
}

// EncodeBinary writes e as msgpack. With withMetadata false only the bare
// vector is written.
func EncodeBinary(w io.Writer, e *ProjectEmbedding, withMetadata bool) error {
	enc := msgpack.NewEncoder(w)
	var err error
	if withMetadata {
		err = enc.Encode(e)
	} else {
		err = enc.Encode(e.Vector)
	}
	if err != nil {
		return fmt.Errorf("encode embedding msgpack: %w", err)
	}
	return nil
}

// Encode writes e in format f.
func Encode(w io.Writer, e *ProjectEmbedding, f Format) error {
	switch f {
	case FormatJSON:
		return EncodeJSON(w, e)
	case FormatBinary:
		return EncodeBinary(w, e, true)
	case FormatVector:
		return EncodeBinary(w, e, false)
	}
	return fmt.Errorf("unknown embedding format %q", f)
}

// Decode reads an embedding written by any encoder in this package: JSON
// or msgpack, each either as a bare float array or the wrapped form.
func Decode(data []byte) (*ProjectEmbedding, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptEmbedding)
	}

	var e ProjectEmbedding
	var err error
	switch c := trimmed[0]; {
	case c == '[':
		err = json.Unmarshal(trimmed, &e.Vector)
	case c == '{':
		err = json.Unmarshal(trimmed, &e)
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		err = msgpack.Unmarshal(data, &e.Vector)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		err = msgpack.Unmarshal(data, &e)
	default:
		return nil, fmt.Errorf("%w: unrecognised leading byte 0x%02x", ErrCorruptEmbedding, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEmbedding, err)
	}
	if len(e.Vector) == 0 {
		return nil, fmt.Errorf("%w: no vector", ErrCorruptEmbedding)
	}
	return &e, nil
}

// WriteFile stores e at path in format f, creating parent directories.
func WriteFile(path string, e *ProjectEmbedding, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create embedding dir: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, e, f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadFile loads an embedding in any supported format.
func ReadFile(path string) (*ProjectEmbedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedding: %w", err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}
