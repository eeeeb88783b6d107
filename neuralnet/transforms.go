package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Expand stacks neighbouring frames: output row t is the concatenation of the
// input rows t+offset for every offset, clamped to the first and last frame.
type Expand struct {
	nIn, nOut int
	offsets   []int
}

func NewExpand(inputs int, offsets []int) (*Expand, error) {
	if inputs <= 0 || len(offsets) == 0 {
		return nil, ConfigError("%s needs a positive width and offsets", KindExpand)
	}
	return &Expand{nIn: inputs, nOut: inputs * len(offsets), offsets: append([]int(nil), offsets...)}, nil
}

func (c *Expand) Kind() Kind       { return KindExpand }
func (c *Expand) InputDim() int    { return c.nIn }
func (c *Expand) OutputDim() int   { return c.nOut }
func (c *Expand) Offsets() []int   { return c.offsets }
func (c *Expand) Clone() Component { return &Expand{nIn: c.nIn, nOut: c.nOut, offsets: c.offsets} }

// Context returns how many frames before and after a row its output depends on.
func (c *Expand) Context() (left, right int) {
	for _, o := range c.offsets {
		left = max(left, -o)
		right = max(right, o)
	}
	return left, right
}

func clampRow(t, rows int) int {
	return min(max(t, 0), rows-1)
}

func (c *Expand) propagate(x, y *mat.Dense) {
	rows, _ := x.Dims()
	eachRow(y, func(t int, out []float64) {
		for k, o := range c.offsets {
			copy(out[k*c.nIn:(k+1)*c.nIn], x.RawRowView(clampRow(t+o, rows)))
		}
	})
}

func (c *Expand) backpropagate(x, y, e, d *mat.Dense) {
	rows, _ := d.Dims()
	d.Zero()
	eachRow(e, func(t int, err []float64) {
		for k, o := range c.offsets {
			floats.Add(d.RawRowView(clampRow(t+o, rows)), err[k*c.nIn:(k+1)*c.nIn])
		}
	})
}

func (c *Expand) readBody(r bodyReader) error {
	offsets, err := r.readInts()
	if err != nil {
		return err
	}
	if len(offsets) == 0 || c.nIn*len(offsets) != c.nOut {
		return ConfigError("%s with %d offsets cannot map %d to %d", c.Kind(), len(offsets), c.nIn, c.nOut)
	}
	c.offsets = offsets
	return nil
}

func (c *Expand) writeBody(w bodyWriter) error { return w.writeInts(c.offsets) }

// Copy builds every output column from an input column: y[:,j] = x[:,index[j]].
type Copy struct {
	nIn, nOut int
	index     []int
}

// NewCopy creates a column reordering from 0-based input column indices.
func NewCopy(inputs int, index []int) (*Copy, error) {
	c := &Copy{nIn: inputs, nOut: len(index)}
	if err := c.setIndex(index); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Copy) setIndex(index []int) error {
	if len(index) != c.nOut {
		return ConfigError("%s has %d indices for %d outputs", KindCopy, len(index), c.nOut)
	}
	for _, i := range index {
		if i < 0 || i >= c.nIn {
			return ConfigError("%s index %d outside %d inputs", KindCopy, i, c.nIn)
		}
	}
	c.index = append([]int(nil), index...)
	return nil
}

func (c *Copy) Kind() Kind       { return KindCopy }
func (c *Copy) InputDim() int    { return c.nIn }
func (c *Copy) OutputDim() int   { return c.nOut }
func (c *Copy) Clone() Component { return &Copy{nIn: c.nIn, nOut: c.nOut, index: c.index} }

func (c *Copy) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		out := y.RawRowView(i)
		for j, src := range c.index {
			out[j] = in[src]
		}
	})
}

func (c *Copy) backpropagate(x, y, e, d *mat.Dense) {
	d.Zero()
	eachRow(e, func(i int, err []float64) {
		dst := d.RawRowView(i)
		for j, src := range c.index {
			dst[src] += err[j]
		}
	})
}

func (c *Copy) readBody(r bodyReader) error {
	index, err := r.readInts()
	if err != nil {
		return err
	}
	return c.setIndex(index)
}

func (c *Copy) writeBody(w bodyWriter) error { return w.writeInts(c.index) }

// BlockLinear applies one fixed matrix to each consecutive input block, a block
// diagonal transform without bias. It is not trained.
type BlockLinear struct {
	nIn, nOut int
	block     *mat.Dense // block inputs x block outputs
}

// NewBlockLinear creates a block linearity repeating block over inputs/rows(block) blocks.
func NewBlockLinear(inputs int, block *mat.Dense) (*BlockLinear, error) {
	bi, bo := block.Dims()
	if inputs%bi != 0 {
		return nil, ConfigError("%s block of %d rows does not divide %d inputs", KindBlockLinear, bi, inputs)
	}
	return &BlockLinear{nIn: inputs, nOut: inputs / bi * bo, block: block}, nil
}

func (c *BlockLinear) Kind() Kind     { return KindBlockLinear }
func (c *BlockLinear) InputDim() int  { return c.nIn }
func (c *BlockLinear) OutputDim() int { return c.nOut }
func (c *BlockLinear) Clone() Component {
	return &BlockLinear{nIn: c.nIn, nOut: c.nOut, block: c.block}
}

func (c *BlockLinear) propagate(x, y *mat.Dense) {
	bi, bo := c.block.Dims()
	r, _ := x.Dims()
	for k := 0; k < c.nIn/bi; k++ {
		yk := y.Slice(0, r, k*bo, (k+1)*bo).(*mat.Dense)
		yk.Mul(x.Slice(0, r, k*bi, (k+1)*bi), c.block)
	}
}

func (c *BlockLinear) backpropagate(x, y, e, d *mat.Dense) {
	bi, bo := c.block.Dims()
	r, _ := e.Dims()
	for k := 0; k < c.nIn/bi; k++ {
		dk := d.Slice(0, r, k*bi, (k+1)*bi).(*mat.Dense)
		dk.Mul(e.Slice(0, r, k*bo, (k+1)*bo), c.block.T())
	}
}

func (c *BlockLinear) readBody(r bodyReader) error {
	bt, err := r.readMatrix()
	if err != nil {
		return err
	}
	bo, bi := bt.Dims()
	if c.nIn%bi != 0 || c.nIn/bi*bo != c.nOut {
		return ConfigError("%s block %dx%d does not map %d to %d", c.Kind(), bo, bi, c.nIn, c.nOut)
	}
	c.block = transposed(bt)
	return nil
}

func (c *BlockLinear) writeBody(w bodyWriter) error { return w.writeMatrix(transposed(c.block)) }

type Bias struct {
	dim int
	b   []float64
}

func NewBias(b []float64) *Bias { return &Bias{dim: len(b), b: b} }

func (c *Bias) Kind() Kind       { return KindBias }
func (c *Bias) InputDim() int    { return c.dim }
func (c *Bias) OutputDim() int   { return c.dim }
func (c *Bias) Clone() Component { return &Bias{dim: c.dim, b: c.b} }

func (c *Bias) propagate(x, y *mat.Dense) {
	y.Copy(x)
	addRowVector(y, c.b)
}

func (c *Bias) backpropagate(x, y, e, d *mat.Dense) { d.Copy(e) }

func (c *Bias) readBody(r bodyReader) error {
	b, err := readVectorLen(r, c.Kind(), c.dim)
	c.b = b
	return err
}

func (c *Bias) writeBody(w bodyWriter) error { return w.writeVector(c.b) }

type Window struct {
	dim int
	w   []float64
}

func NewWindow(w []float64) *Window { return &Window{dim: len(w), w: w} }

func (c *Window) Kind() Kind       { return KindWindow }
func (c *Window) InputDim() int    { return c.dim }
func (c *Window) OutputDim() int   { return c.dim }
func (c *Window) Clone() Component { return &Window{dim: c.dim, w: c.w} }

func (c *Window) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		floats.MulTo(y.RawRowView(i), in, c.w)
	})
}

func (c *Window) backpropagate(x, y, e, d *mat.Dense) {
	eachRow(e, func(i int, err []float64) {
		floats.MulTo(d.RawRowView(i), err, c.w)
	})
}

func (c *Window) readBody(r bodyReader) error {
	w, err := readVectorLen(r, c.Kind(), c.dim)
	c.w = w
	return err
}

func (c *Window) writeBody(w bodyWriter) error { return w.writeVector(c.w) }

// logFloor keeps Log away from -Inf.
const logFloor = 1e-10

// Log takes the natural logarithm of every element.
type Log struct {
	dim int
}

func NewLog(dim int) *Log { return &Log{dim: dim} }

func (c *Log) Kind() Kind       { return KindLog }
func (c *Log) InputDim() int    { return c.dim }
func (c *Log) OutputDim() int   { return c.dim }
func (c *Log) Clone() Component { return &Log{dim: c.dim} }

func (c *Log) propagate(x, y *mat.Dense) {
	eachRow(x, func(i int, in []float64) {
		out := y.RawRowView(i)
		for j, v := range in {
			out[j] = math.Log(math.Max(v, logFloor))
		}
	})
}

func (c *Log) backpropagate(x, y, e, d *mat.Dense) {
	eachRow(e, func(i int, err []float64) {
		in, dst := x.RawRowView(i), d.RawRowView(i)
		for j, v := range err {
			dst[j] = v / math.Max(in[j], logFloor)
		}
	})
}

func (c *Log) readBody(r bodyReader) error  { return nil }
func (c *Log) writeBody(w bodyWriter) error { return nil }
