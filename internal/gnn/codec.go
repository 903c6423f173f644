package gnn

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ErrCorruptModel is returned when a model stream cannot be decoded or
// does not match the architecture its config describes.
var ErrCorruptModel = errors.New("corrupt model file")

const (
	modelMagic   = "CGNN"
	modelVersion = 1

	// maxModelPayload bounds the length prefix Load accepts.
	maxModelPayload = 1 << 31
)

// modelFile is the on-disk representation shared by both encodings.
type modelFile struct {
	Version int              `json:"version" msgpack:"version"`
	Kind    Kind             `json:"kind" msgpack:"kind"`
	Config  Config           `json:"config" msgpack:"config"`
	Params  []*tensor.Tensor `json:"params" msgpack:"params"`
}

func (m *Model) file() modelFile {
	return modelFile{Version: modelVersion, Kind: m.Kind, Config: m.Config, Params: m.Params()}
}

// Fingerprint identifies the model's architecture and weights: the xxhash
// of its binary payload, in hex. Models that encode identically share it.
func (m *Model) Fingerprint() string {
	payload, err := msgpack.Marshal(m.file())
	if err != nil {
		panic("gnn: encode model: " + err.Error())
	}
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// Save writes the binary encoding: the 4-byte magic, a big-endian uint32
// payload length, then the msgpack payload.
func (m *Model) Save(w io.Writer) error {
	payload, err := msgpack.Marshal(m.file())
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	var header [8]byte
	copy(header[:4], modelMagic)
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write model header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write model payload: %w", err)
	}
	return nil
}

// Load reads a model written by Save. Truncated or corrupt input returns an
// error wrapping ErrCorruptModel; defaults are never substituted.
func Load(r io.Reader) (*Model, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptModel, err)
	}
	if string(header[:4]) != modelMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptModel, header[:4])
	}
	n := binary.BigEndian.Uint32(header[4:])
	if uint64(n) > maxModelPayload {
		return nil, fmt.Errorf("%w: payload length %d too large", ErrCorruptModel, n)
	}
	// The buffer grows with the bytes actually read, not with the prefix.
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, r, int64(n)); err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrCorruptModel, err)
	}
	var f modelFile
	if err := msgpack.Unmarshal(payload.Bytes(), &f); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCorruptModel, err)
	}
	return f.model()
}

// SaveJSON writes the JSON encoding. Field semantics match Save.
func (m *Model) SaveJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(m.file()); err != nil {
		return fmt.Errorf("encode model json: %w", err)
	}
	return nil
}

// LoadJSON reads a model written by SaveJSON.
func LoadJSON(r io.Reader) (*Model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrCorruptModel, err)
	}
	return f.model()
}

// SaveFile writes the model to path, choosing JSON for a .json extension
// and the binary encoding otherwise.
func (m *Model) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	w := bufio.NewWriter(f)
	if filepath.Ext(path) == ".json" {
		err = m.SaveJSON(w)
	} else {
		err = m.Save(w)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// LoadFile reads a model saved by SaveFile.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if filepath.Ext(path) == ".json" {
		return LoadJSON(r)
	}
	return Load(r)
}

// model rebuilds the architecture from the config and copies the stored
// weights into it, checking every shape.
func (f modelFile) model() (*Model, error) {
	if f.Version != modelVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptModel, f.Version)
	}
	if err := f.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	// Weights are checked against the config before New allocates
	// anything, so the allocation is bounded by the decoded input.
	if err := f.checkShapes(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	m, err := New(f.Kind, f.Config, tensor.NewRand(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	params := m.Params()
	if len(params) != len(f.Params) {
		return nil, fmt.Errorf("%w: %d weight tensors, architecture needs %d", ErrCorruptModel, len(f.Params), len(params))
	}
	for i, p := range params {
		got := f.Params[i]
		if got == nil || !slices.Equal(got.Shape, p.Shape) || len(got.Data) != len(p.Data) {
			return nil, fmt.Errorf("%w: weight %d does not match shape %v", ErrCorruptModel, i, p.Shape)
		}
		copy(p.Data, got.Data)
	}
	return m, nil
}

// checkShapes walks the parameter shapes the config implies, in Params
// order, and compares each with the stored tensor.
func (f modelFile) checkShapes() error {
	switch f.Kind {
	case KindSAGE, KindGAT, KindHybrid:
	default:
		return fmt.Errorf("unknown model kind %q", f.Kind)
	}

	i := 0
	expect := func(shape ...int) error {
		if i >= len(f.Params) {
			return fmt.Errorf("missing weight %d", i)
		}
		got := f.Params[i]
		if got == nil || !slices.Equal(got.Shape, shape) {
			return fmt.Errorf("weight %d does not match shape %v", i, shape)
		}
		size, ok := product(shape...)
		if !ok || size != len(got.Data) {
			return fmt.Errorf("weight %d holds %d values for shape %v", i, len(got.Data), shape)
		}
		i++
		return nil
	}

	cfg := f.Config
	in := cfg.InputDim
	for l, hidden := range cfg.HiddenDims {
		if f.Kind == KindGAT || (f.Kind == KindHybrid && l%2 == 1) {
			width, ok := product(cfg.NumHeads, hidden)
			if !ok {
				return fmt.Errorf("layer %d width overflows", l)
			}
			if err := expect(in, width); err != nil {
				return err
			}
			attn, ok := product(2, hidden)
			if !ok {
				return fmt.Errorf("layer %d attention width overflows", l)
			}
			for range cfg.NumHeads {
				if err := expect(attn); err != nil {
					return err
				}
			}
			if cfg.headMerge() == HeadAverage {
				width = hidden
			}
			if err := expect(1, width); err != nil {
				return err
			}
			in = width
			continue
		}
		for range 2 {
			if err := expect(in, hidden); err != nil {
				return err
			}
		}
		if err := expect(1, hidden); err != nil {
			return err
		}
		in = hidden
	}

	if cfg.UseAttentionPooling {
		h := max(1, in/2)
		for _, shape := range [][]int{{in, h}, {1, h}, {h, 1}} {
			if err := expect(shape...); err != nil {
				return err
			}
		}
	}
	if in != cfg.OutputDim {
		if err := expect(in, cfg.OutputDim); err != nil {
			return err
		}
	}
	if i != len(f.Params) {
		return fmt.Errorf("%d weight tensors, architecture needs %d", len(f.Params), i)
	}
	return nil
}

// product multiplies positive dims, reporting false on overflow.
func product(dims ...int) (int, bool) {
	n := 1
	for _, d := range dims {
		if d <= 0 || n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}
