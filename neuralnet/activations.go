package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ActivationFunction is an elementwise nonlinearity. Derivative receives both
// the input x and the already computed output y = Activate(x).
type ActivationFunction interface {
	Activate(x float64) float64
	Derivative(x, y float64) float64
}

type Sigmoid struct{}

func (s Sigmoid) Activate(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (s Sigmoid) Derivative(x, y float64) float64 {
	return y * (1 - y)
}

type Tanh struct{}

func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

func (t Tanh) Derivative(x, y float64) float64 {
	return 1 - y*y
}

type Activation struct {
	kind Kind
	dim  int
	fn   ActivationFunction
}

func NewSigmoid(dim int) *Activation {
	return &Activation{kind: KindSigmoid, dim: dim, fn: Sigmoid{}}
}

func NewTanh(dim int) *Activation {
	return &Activation{kind: KindTanh, dim: dim, fn: Tanh{}}
}

func (a *Activation) Kind() Kind       { return a.kind }
func (a *Activation) InputDim() int    { return a.dim }
func (a *Activation) OutputDim() int   { return a.dim }
func (a *Activation) Clone() Component { c := *a; return &c }

func (a *Activation) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		out := y.RawRowView(i)
		for j, v := range in {
			out[j] = a.fn.Activate(v)
		}
	})
}

func (a *Activation) backpropagate(x, y, e, d *mat.Dense) {
	eachRow(e, func(i int, err []float64) {
		in, out, dst := x.RawRowView(i), y.RawRowView(i), d.RawRowView(i)
		for j, v := range err {
			dst[j] = v * a.fn.Derivative(in[j], out[j])
		}
	})
}

func (a *Activation) readBody(r bodyReader) error  { return nil }
func (a *Activation) writeBody(w bodyWriter) error { return nil }

// Softmax normalises every row into a probability distribution. Its backward
// pass hands the error through unchanged: the cross-entropy objective already
// yields the error with respect to the softmax input.
type Softmax struct {
	dim int
}

func NewSoftmax(dim int) *Softmax { return &Softmax{dim: dim} }

func (s *Softmax) Kind() Kind       { return KindSoftmax }
func (s *Softmax) InputDim() int    { return s.dim }
func (s *Softmax) OutputDim() int   { return s.dim }
func (s *Softmax) Clone() Component { return &Softmax{dim: s.dim} }

func (s *Softmax) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		softmaxRow(y.RawRowView(i), in)
	})
}

func (s *Softmax) backpropagate(x, y, e, d *mat.Dense) { d.Copy(e) }

func (s *Softmax) readBody(r bodyReader) error  { return nil }
func (s *Softmax) writeBody(w bodyWriter) error { return nil }

// BlockSoftmax applies an independent softmax to consecutive column blocks.
type BlockSoftmax struct {
	dim    int
	blocks []int
}

func NewBlockSoftmax(blocks []int) (*BlockSoftmax, error) {
	s := &BlockSoftmax{}
	for _, b := range blocks {
		if b <= 0 {
			return nil, ConfigError("%s has a block of width %d", KindBlockSoftmax, b)
		}
		s.dim += b
	}
	if s.dim == 0 {
		return nil, ConfigError("%s needs at least one block", KindBlockSoftmax)
	}
	s.blocks = append([]int(nil), blocks...)
	return s, nil
}

func (s *BlockSoftmax) Kind() Kind     { return KindBlockSoftmax }
func (s *BlockSoftmax) InputDim() int  { return s.dim }
func (s *BlockSoftmax) OutputDim() int { return s.dim }

func (s *BlockSoftmax) Blocks() []int { return s.blocks }

func (s *BlockSoftmax) Clone() Component {
	return &BlockSoftmax{dim: s.dim, blocks: s.blocks}
}

func (s *BlockSoftmax) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		out := y.RawRowView(i)
		off := 0
		for _, b := range s.blocks {
			softmaxRow(out[off:off+b], in[off:off+b])
			off += b
		}
	})
}

func (s *BlockSoftmax) backpropagate(x, y, e, d *mat.Dense) { d.Copy(e) }

func (s *BlockSoftmax) readBody(r bodyReader) error {
	blocks, err := r.readInts()
	if err != nil {
		return err
	}
	dim := s.dim
	parsed, err := NewBlockSoftmax(blocks)
	if err != nil {
		return err
	}
	if parsed.dim != dim {
		return ConfigError("%s blocks sum to %d, want %d", s.Kind(), parsed.dim, dim)
	}
	*s = *parsed
	return nil
}

func (s *BlockSoftmax) writeBody(w bodyWriter) error { return w.writeInts(s.blocks) }

// softmaxRow writes softmax(in) into out, shifting by the maximum for stability.
func softmaxRow(out, in []float64) {
	shift := floats.Max(in)
	for j, v := range in {
		out[j] = math.Exp(v - shift)
	}
	floats.Scale(1/floats.Sum(out), out)
}
