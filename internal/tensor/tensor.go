// Package tensor provides the dense float32 buffer used by the GNN layers.
//
// Every operation returns a new Tensor; shapes never change after
// construction. Shape mismatches are programmer errors and panic.
package tensor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Tensor is a dense n-dimensional buffer in row-major order.
// Invariant: len(Data) == product(Shape).
type Tensor struct {
	Data  []float32 `json:"data" msgpack:"data"`
	Shape []int     `json:"shape" msgpack:"shape"`
}

// Zeros returns an all-zero tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Data: make([]float32, numel(shape)), Shape: slices.Clone(shape)}
}

// Ones returns a tensor of the given shape filled with 1.
func Ones(shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t
}

// FromSlice wraps a copy of data in a tensor of the given shape.
// It panics if len(data) does not match the shape.
func FromSlice(data []float32, shape ...int) *Tensor {
	t, err := New(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// New is the checked form of FromSlice for data read from untrusted input.
func New(data []float32, shape ...int) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor: negative dimension in shape %v", shape)
		}
	}
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("tensor: %d values do not fit shape %v (want %d)", len(data), shape, n)
	}
	return &Tensor{Data: slices.Clone(data), Shape: slices.Clone(shape)}, nil
}

// Vector returns a 1-D tensor holding a copy of data.
func Vector(data []float32) *Tensor {
	return FromSlice(data, len(data))
}

// Uniform samples every element from [-scale, scale).
func Uniform(rng *rand.Rand, scale float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * scale
	}
	return t
}

// XavierUniform returns a fanIn×fanOut matrix initialised with the
// Glorot uniform bound sqrt(6/(fanIn+fanOut)).
func XavierUniform(rng *rand.Rand, fanIn, fanOut int) *Tensor {
	scale := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	return Uniform(rng, scale, fanIn, fanOut)
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int { return len(t.Shape) }

// Rows returns the first dimension of a 2-D tensor.
func (t *Tensor) Rows() int {
	t.mustDims(2, "Rows")
	return t.Shape[0]
}

// Cols returns the last dimension.
func (t *Tensor) Cols() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[len(t.Shape)-1]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Data: slices.Clone(t.Data), Shape: slices.Clone(t.Shape)}
}

// Reshape returns a copy viewed with a new shape of the same size.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if numel(shape) != len(t.Data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", t.Shape, shape))
	}
	return &Tensor{Data: slices.Clone(t.Data), Shape: slices.Clone(shape)}
}

// Flatten returns a 1-D copy.
func (t *Tensor) Flatten() *Tensor {
	return t.Reshape(len(t.Data))
}

// At returns the element at (i, j) of a 2-D tensor.
func (t *Tensor) At(i, j int) float32 {
	t.mustDims(2, "At")
	return t.Data[i*t.Shape[1]+j]
}

// Row returns row i of a 2-D tensor as a 1×cols tensor.
func (t *Tensor) Row(i int) *Tensor {
	t.mustDims(2, "Row")
	cols := t.Shape[1]
	if i < 0 || i >= t.Shape[0] {
		panic(fmt.Sprintf("tensor: row %d out of range for shape %v", i, t.Shape))
	}
	return FromSlice(t.Data[i*cols:(i+1)*cols], 1, cols)
}

// Slice returns columns [from, to) of a 2-D tensor.
func (t *Tensor) Slice(from, to int) *Tensor {
	t.mustDims(2, "Slice")
	rows, cols := t.Shape[0], t.Shape[1]
	if from < 0 || to > cols || from > to {
		panic(fmt.Sprintf("tensor: column slice [%d,%d) out of range for shape %v", from, to, t.Shape))
	}
	out := Zeros(rows, to-from)
	for r := 0; r < rows; r++ {
		copy(out.Data[r*(to-from):(r+1)*(to-from)], t.Data[r*cols+from:r*cols+to])
	}
	return out
}

// Stack concatenates 1×d (or length-d) rows into an n×d matrix.
// An empty input yields a 0×width matrix.
func Stack(width int, rows ...*Tensor) *Tensor {
	out := Zeros(len(rows), width)
	for i, r := range rows {
		if len(r.Data) != width {
			panic(fmt.Sprintf("tensor: stack row %d has %d values, want %d", i, len(r.Data), width))
		}
		copy(out.Data[i*width:(i+1)*width], r.Data)
	}
	return out
}

// Concat joins tensors along their last dimension. All inputs must be
// 1×d row vectors or 1-D vectors.
func Concat(parts ...*Tensor) *Tensor {
	var data []float32
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return FromSlice(data, 1, len(data))
}

// MatMul returns the matrix product t·other. Both operands must be 2-D
// with t.Cols() == other.Rows().
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	t.mustDims(2, "MatMul")
	other.mustDims(2, "MatMul")
	m, k := t.Shape[0], t.Shape[1]
	k2, n := other.Shape[0], other.Shape[1]
	if k != k2 {
		panic(fmt.Sprintf("tensor: matmul shape mismatch %v x %v", t.Shape, other.Shape))
	}
	out := Zeros(m, n)
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			a := t.Data[i*k+p]
			if a == 0 {
				continue
			}
			row := other.Data[p*n : (p+1)*n]
			dst := out.Data[i*n : (i+1)*n]
			for j, b := range row {
				dst[j] += a * b
			}
		}
	}
	return out
}

// Transpose returns the transpose of a 2-D tensor.
func (t *Tensor) Transpose() *Tensor {
	t.mustDims(2, "Transpose")
	rows, cols := t.Shape[0], t.Shape[1]
	out := Zeros(cols, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return out
}

// Add returns t + other element-wise.
func (t *Tensor) Add(other *Tensor) *Tensor {
	return t.zip(other, "Add", func(a, b float32) float32 { return a + b })
}

// Sub returns t - other element-wise.
func (t *Tensor) Sub(other *Tensor) *Tensor {
	return t.zip(other, "Sub", func(a, b float32) float32 { return a - b })
}

// Mul returns the element-wise product.
func (t *Tensor) Mul(other *Tensor) *Tensor {
	return t.zip(other, "Mul", func(a, b float32) float32 { return a * b })
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(s float32) *Tensor {
	return t.Map(func(v float32) float32 { return v * s })
}

// Map applies fn to every element.
func (t *Tensor) Map(fn func(float32) float32) *Tensor {
	out := &Tensor{Data: make([]float32, len(t.Data)), Shape: slices.Clone(t.Shape)}
	for i, v := range t.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// ReLU returns max(0, x) element-wise.
func (t *Tensor) ReLU() *Tensor {
	return t.Map(func(v float32) float32 { return max(v, 0) })
}

// LeakyReLU returns x for x > 0 and alpha·x otherwise.
func (t *Tensor) LeakyReLU(alpha float32) *Tensor {
	return t.Map(func(v float32) float32 { return leaky(v, alpha) })
}

// ELU returns x for x > 0 and alpha·(e^x - 1) otherwise.
func (t *Tensor) ELU(alpha float32) *Tensor {
	return t.Map(func(v float32) float32 {
		if v > 0 {
			return v
		}
		return alpha * float32(math.Expm1(float64(v)))
	})
}

// Sigmoid returns 1/(1+e^-x) element-wise.
func (t *Tensor) Sigmoid() *Tensor {
	return t.Map(func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) })
}

// Tanh returns tanh(x) element-wise.
func (t *Tensor) Tanh() *Tensor {
	return t.Map(func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// Softmax normalises along the last dimension.
func (t *Tensor) Softmax() *Tensor {
	out := t.Clone()
	cols := t.Cols()
	if cols == 0 {
		return out
	}
	for start := 0; start < len(out.Data); start += cols {
		SoftmaxInPlace(out.Data[start : start+cols])
	}
	return out
}

// SoftmaxInPlace normalises xs with the max-subtraction trick.
func SoftmaxInPlace(xs []float32) {
	if len(xs) == 0 {
		return
	}
	hi := slices.Max(xs)
	var sum float64
	for i, v := range xs {
		e := math.Exp(float64(v - hi))
		xs[i] = float32(e)
		sum += e
	}
	for i := range xs {
		xs[i] = float32(float64(xs[i]) / sum)
	}
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var s float64
	for _, v := range t.Data {
		s += float64(v)
	}
	return float32(s)
}

// Mean returns the average of all elements, 0 for an empty tensor.
func (t *Tensor) Mean() float32 {
	if len(t.Data) == 0 {
		return 0
	}
	return t.Sum() / float32(len(t.Data))
}

// L2Norm returns the Euclidean norm of the whole buffer.
func (t *Tensor) L2Norm() float32 {
	return norm(t.Data)
}

// Dot returns the inner product of two equally sized tensors.
func (t *Tensor) Dot(other *Tensor) float32 {
	if len(t.Data) != len(other.Data) {
		panic(fmt.Sprintf("tensor: dot length mismatch %d vs %d", len(t.Data), len(other.Data)))
	}
	return dot(t.Data, other.Data)
}

// Normalize returns t scaled to unit L2 norm. When the norm is below eps
// the input is returned unchanged (as a copy) and ok is false.
func (t *Tensor) Normalize(eps float32) (out *Tensor, ok bool) {
	n := t.L2Norm()
	if n < eps {
		return t.Clone(), false
	}
	return t.Scale(1 / n), true
}

// SumRows reduces an n×d matrix to a length-d vector of column sums.
func (t *Tensor) SumRows() *Tensor {
	t.mustDims(2, "SumRows")
	rows, cols := t.Shape[0], t.Shape[1]
	out := Zeros(cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.Data[c] += t.Data[r*cols+c]
		}
	}
	return out
}

// MeanRows reduces an n×d matrix to its column means. Zero rows yield zeros.
func (t *Tensor) MeanRows() *Tensor {
	s := t.SumRows()
	if t.Shape[0] == 0 {
		return s
	}
	return s.Scale(1 / float32(t.Shape[0]))
}

// MaxRows reduces an n×d matrix to its column maxima. Zero rows yield zeros.
func (t *Tensor) MaxRows() *Tensor {
	t.mustDims(2, "MaxRows")
	rows, cols := t.Shape[0], t.Shape[1]
	out := Zeros(cols)
	if rows == 0 {
		return out
	}
	copy(out.Data, t.Data[:cols])
	for r := 1; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.Data[c] = max(out.Data[c], t.Data[r*cols+c])
		}
	}
	return out
}

// Equal reports whether shapes and values match exactly.
func (t *Tensor) Equal(other *Tensor) bool {
	return slices.Equal(t.Shape, other.Shape) && slices.Equal(t.Data, other.Data)
}

// AllClose reports whether shapes match and all values are within tol.
func (t *Tensor) AllClose(other *Tensor, tol float32) bool {
	if !slices.Equal(t.Shape, other.Shape) {
		return false
	}
	for i, v := range t.Data {
		if d := v - other.Data[i]; d > tol || d < -tol {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

func (t *Tensor) zip(other *Tensor, op string, fn func(a, b float32) float32) *Tensor {
	if !slices.Equal(t.Shape, other.Shape) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, t.Shape, other.Shape))
	}
	out := &Tensor{Data: make([]float32, len(t.Data)), Shape: slices.Clone(t.Shape)}
	for i, v := range t.Data {
		out.Data[i] = fn(v, other.Data[i])
	}
	return out
}

func (t *Tensor) mustDims(n int, op string) {
	if len(t.Shape) != n {
		panic(fmt.Sprintf("tensor: %s needs a %d-D tensor, got shape %v", op, n, t.Shape))
	}
}

func leaky(v, alpha float32) float32 {
	if v > 0 {
		return v
	}
	return alpha * v
}
