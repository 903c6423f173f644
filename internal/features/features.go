// Package features turns code graph nodes into fixed-width input vectors.
//
// The layout is stable for a given Config. Segments appear in this order,
// each only when its flag is set:
//
//	type        11  one-hot over graph.ElementTypes
//	size         2  span/200 (clipped), log1p(span)/log1p(1000) (clipped)
//	position     1  start line/1000 (clipped)
//	complexity   1  complexity/20 (clipped)
//	dependencies 1  dependency count/20 (clipped)
//	language     5  one-hot over go, typescript, python, rust, other
//	name       4+B  length/50, exported, snake_case, camelCase, then B
//	                signed hash buckets over the lower-cased name tokens
//
// The vector is zero-padded or truncated to Dim.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// Config selects the feature segments. The zero value of a flag disables
// its segment.
type Config struct {
	Dim                 int  `json:"dim" yaml:"dim"`
	IncludeTypeInfo     bool `json:"include_type_info" yaml:"includeTypeInfo"`
	IncludeSizeInfo     bool `json:"include_size_info" yaml:"includeSizeInfo"`
	IncludePosition     bool `json:"include_position" yaml:"includePosition"`
	IncludeComplexity   bool `json:"include_complexity" yaml:"includeComplexity"`
	IncludeDependencies bool `json:"include_dependencies" yaml:"includeDependencies"`
	IncludeLanguage     bool `json:"include_language" yaml:"includeLanguage"`
	IncludeNameHash     bool `json:"include_name_hash" yaml:"includeNameHash"`
	NameHashBuckets     int  `json:"name_hash_buckets" yaml:"nameHashBuckets"`
	// MaxNodes caps the nodes that receive features; nodes with a higher
	// id are left out and so ignored by the model. Zero means no cap.
	MaxNodes int `json:"max_nodes" yaml:"maxNodes"`
}

// DefaultConfig enables every segment with 32 name buckets in a
// 128-wide vector.
func DefaultConfig() Config {
	return Config{
		Dim:                 128,
		IncludeTypeInfo:     true,
		IncludeSizeInfo:     true,
		IncludePosition:     true,
		IncludeComplexity:   true,
		IncludeDependencies: true,
		IncludeLanguage:     true,
		IncludeNameHash:     true,
		NameHashBuckets:     32,
		MaxNodes:            10000,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid feature config")

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidConfig, c.Dim)
	}
	if c.NameHashBuckets < 0 {
		return fmt.Errorf("%w: name_hash_buckets must not be negative, got %d", ErrInvalidConfig, c.NameHashBuckets)
	}
	if c.MaxNodes < 0 {
		return fmt.Errorf("%w: max_nodes must not be negative, got %d", ErrInvalidConfig, c.MaxNodes)
	}
	return nil
}

// Segment is one named range of the feature vector.
type Segment struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Width  int    `json:"width"`
}

var languages = []graph.Language{graph.LangGo, graph.LangTypeScript, graph.LangPython, graph.LangRust}

// Layout returns the segments c produces, before padding or truncation.
// Segments that fall past Dim are still listed.
func (c Config) Layout() []Segment {
	var out []Segment
	off := 0
	add := func(on bool, name string, width int) {
		if !on {
			return
		}
		out = append(out, Segment{Name: name, Offset: off, Width: width})
		off += width
	}
	add(c.IncludeTypeInfo, "type", len(graph.ElementTypes))
	add(c.IncludeSizeInfo, "size", 2)
	add(c.IncludePosition, "position", 1)
	add(c.IncludeComplexity, "complexity", 1)
	add(c.IncludeDependencies, "dependencies", 1)
	add(c.IncludeLanguage, "language", len(languages)+1)
	add(c.IncludeNameHash, "name", 4+c.NameHashBuckets)
	return out
}

// Width is the number of features before padding or truncation.
func (c Config) Width() int {
	w := 0
	for _, s := range c.Layout() {
		w += s.Width
	}
	return w
}

// Extractor maps nodes to feature vectors. It has no learned state and is
// safe for concurrent use.
type Extractor struct {
	cfg Config
}

// New returns an Extractor. It panics on an invalid config; call
// Validate first for untrusted input.
func New(cfg Config) *Extractor {
	if err := cfg.Validate(); err != nil {
		panic("features: " + err.Error())
	}
	return &Extractor{cfg: cfg}
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Dim is the length of every feature vector.
func (e *Extractor) Dim() int { return e.cfg.Dim }

// ExtractNode returns the 1×Dim feature row for n. A node whose language
// is unset takes fallback.
func (e *Extractor) ExtractNode(n graph.CodeNode, fallback graph.Language) *tensor.Tensor {
	c := e.cfg
	f := make([]float32, 0, c.Width())

	if c.IncludeTypeInfo {
		oneHot := make([]float32, len(graph.ElementTypes))
		oneHot[n.ElementType.Index()] = 1
		f = append(f, oneHot...)
	}
	if c.IncludeSizeInfo {
		span := float64(n.Span())
		f = append(f,
			clip(span/200),
			clip(math.Log1p(span)/math.Log1p(1000)),
		)
	}
	if c.IncludePosition {
		f = append(f, clip(float64(n.StartLine)/1000))
	}
	if c.IncludeComplexity {
		f = append(f, clip(float64(n.Complexity)/20))
	}
	if c.IncludeDependencies {
		f = append(f, clip(float64(len(n.Dependencies))/20))
	}
	if c.IncludeLanguage {
		lang := n.Language
		if lang == "" {
			lang = fallback
		}
		oneHot := make([]float32, len(languages)+1)
		oneHot[languageIndex(lang)] = 1
		f = append(f, oneHot...)
	}
	if c.IncludeNameHash {
		f = append(f, nameFeatures(n.Name, c.NameHashBuckets)...)
	}

	out := tensor.Zeros(1, c.Dim)
	copy(out.Data, f)
	return out
}

// ExtractGraph returns one feature row per node keyed by node id.
func (e *Extractor) ExtractGraph(g *graph.CodeGraph) map[int]*tensor.Tensor {
	out := make(map[int]*tensor.Tensor, len(g.Nodes))
	for _, n := range g.Nodes {
		if e.cfg.MaxNodes > 0 && n.ID >= e.cfg.MaxNodes {
			continue
		}
		out[n.ID] = e.ExtractNode(n, g.Language)
	}
	return out
}

// ExtractMatrix returns the n×Dim feature matrix of g, row i for node i,
// limited to MaxNodes rows.
func (e *Extractor) ExtractMatrix(g *graph.CodeGraph) *tensor.Tensor {
	n := len(g.Nodes)
	if e.cfg.MaxNodes > 0 && n > e.cfg.MaxNodes {
		n = e.cfg.MaxNodes
	}
	rows := make([]*tensor.Tensor, n)
	for i := range n {
		rows[i] = e.ExtractNode(g.Nodes[i], g.Language)
	}
	return tensor.Stack(e.cfg.Dim, rows...)
}

func languageIndex(l graph.Language) int {
	for i, lang := range languages {
		if lang == l {
			return i
		}
	}
	return len(languages)
}

// nameFeatures encodes the length, style and hashed tokens of a name.
func nameFeatures(name string, buckets int) []float32 {
	f := make([]float32, 4+buckets)
	if name == "" {
		return f
	}
	f[0] = clip(float64(len(name)) / 50)
	f[1] = flag(isExported(name))
	f[2] = flag(strings.Contains(name, "_"))
	f[3] = flag(isCamel(name))

	if buckets == 0 {
		return f
	}
	tokens := splitName(name)
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		sign := float32(1)
		if h>>63 == 1 {
			sign = -1
		}
		f[4+int(h%uint64(buckets))] += sign / float32(len(tokens))
	}
	return f
}

// splitName breaks a name into lower-cased words on case changes, digits
// and any non-alphanumeric separator.
func splitName(name string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func isExported(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

func isCamel(name string) bool {
	runes := []rune(name)
	for i := 1; i < len(runes); i++ {
		if unicode.IsLower(runes[i-1]) && unicode.IsUpper(runes[i]) {
			return true
		}
	}
	return false
}

func clip(v float64) float32 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return float32(v)
}

func flag(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
