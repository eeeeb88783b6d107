package neuralnet

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Affine is the biased linearity y = x·W + b.
type Affine struct {
	nIn, nOut int
	linearity
}

// NewAffine creates an affine component with Xavier-initialised weights and zero bias.
func NewAffine(inputs, outputs int, rng *rand.Rand) *Affine {
	w := mat.NewDense(inputs, outputs, nil)
	xavierInit(w, inputs, outputs, rng)
	return &Affine{nIn: inputs, nOut: outputs, linearity: newLinearity(w, make([]float64, outputs))}
}

// NewAffineFrom creates an affine component from an inputs x outputs weight
// matrix and a bias. The component keeps both.
func NewAffineFrom(w *mat.Dense, b []float64) (*Affine, error) {
	r, c := w.Dims()
	if len(b) != c {
		return nil, DimensionError("bias has %d entries for %d outputs", len(b), c)
	}
	return &Affine{nIn: r, nOut: c, linearity: newLinearity(w, b)}, nil
}

func (a *Affine) Kind() Kind     { return KindAffine }
func (a *Affine) InputDim() int  { return a.nIn }
func (a *Affine) OutputDim() int { return a.nOut }

// Weights returns the inputs x outputs weight matrix.
func (a *Affine) Weights() *mat.Dense { return a.w }

func (a *Affine) Bias() []float64 { return a.b }

func (a *Affine) Clone() Component {
	return &Affine{nIn: a.nIn, nOut: a.nOut, linearity: a.linearity.clone()}
}

func (a *Affine) propagate(x, y *mat.Dense) {
	y.Mul(x, a.w)
	addRowVector(y, a.b)
}

func (a *Affine) backpropagate(x, y, e, d *mat.Dense) {
	d.Mul(e, a.w.T())
}

func (a *Affine) Gradient(x, e *mat.Dense) {
	g, gb := a.localGradient()
	g.Mul(x.T(), e)
	colSums(gb, e)
	a.frames, _ = x.Dims()
}

func (a *Affine) AccuGradient(src Updatable, thr, thrN int) error {
	s, ok := src.(*Affine)
	if !ok {
		return ConfigError("cannot accumulate %s into %s", src.Kind(), a.Kind())
	}
	return a.accuGradient(&s.linearity, thr, thrN)
}

func (a *Affine) Update(thr, thrN int)    { a.update(thr, thrN) }
func (a *Affine) ResetFrames()            { a.resetFrames() }
func (a *Affine) Params() TrainParams     { return a.params }
func (a *Affine) SetParams(p TrainParams) { a.params = p }

func (a *Affine) readBody(r bodyReader) error {
	wt, err := readMatrixShape(r, a.Kind(), a.nOut, a.nIn)
	if err != nil {
		return err
	}
	b, err := readVectorLen(r, a.Kind(), a.nOut)
	if err != nil {
		return err
	}
	a.linearity = newLinearity(transposed(wt), b)
	return nil
}

func (a *Affine) writeBody(w bodyWriter) error {
	if err := w.writeMatrix(transposed(a.w)); err != nil {
		return err
	}
	return w.writeVector(a.b)
}

// SharedLinear applies one tied weight matrix and bias to each of its equally
// sized input blocks and concatenates the results.
type SharedLinear struct {
	nIn, nOut int
	instances int
	linearity
}

func NewSharedLinear(inputs, outputs, instances int, rng *rand.Rand) (*SharedLinear, error) {
	if instances <= 0 || inputs%instances != 0 || outputs%instances != 0 {
		return nil, ConfigError("%d instances do not divide widths %d %d", instances, outputs, inputs)
	}
	bi, bo := inputs/instances, outputs/instances
	w := mat.NewDense(bi, bo, nil)
	xavierInit(w, bi, bo, rng)
	return &SharedLinear{nIn: inputs, nOut: outputs, instances: instances,
		linearity: newLinearity(w, make([]float64, bo))}, nil
}

func (s *SharedLinear) Kind() Kind     { return KindSharedLinear }
func (s *SharedLinear) InputDim() int  { return s.nIn }
func (s *SharedLinear) OutputDim() int { return s.nOut }

func (s *SharedLinear) Instances() int { return s.instances }

// Weights returns the per-block inputs x outputs weight matrix.
func (s *SharedLinear) Weights() *mat.Dense { return s.w }

func (s *SharedLinear) Clone() Component {
	return &SharedLinear{nIn: s.nIn, nOut: s.nOut, instances: s.instances, linearity: s.linearity.clone()}
}

func (s *SharedLinear) blocks() (bi, bo int) {
	return s.nIn / s.instances, s.nOut / s.instances
}

func (s *SharedLinear) propagate(x, y *mat.Dense) {
	bi, bo := s.blocks()
	r, _ := x.Dims()
	for k := 0; k < s.instances; k++ {
		yk := y.Slice(0, r, k*bo, (k+1)*bo).(*mat.Dense)
		yk.Mul(x.Slice(0, r, k*bi, (k+1)*bi), s.w)
		addRowVector(yk, s.b)
	}
}

func (s *SharedLinear) backpropagate(x, y, e, d *mat.Dense) {
	bi, bo := s.blocks()
	r, _ := e.Dims()
	for k := 0; k < s.instances; k++ {
		dk := d.Slice(0, r, k*bi, (k+1)*bi).(*mat.Dense)
		dk.Mul(e.Slice(0, r, k*bo, (k+1)*bo), s.w.T())
	}
}

func (s *SharedLinear) Gradient(x, e *mat.Dense) {
	bi, bo := s.blocks()
	g, gb := s.localGradient()
	r, _ := x.Dims()
	var part mat.Dense
	part.Mul(x.Slice(0, r, 0, bi).T(), e.Slice(0, r, 0, bo))
	g.Copy(&part)
	for k := 1; k < s.instances; k++ {
		part.Mul(x.Slice(0, r, k*bi, (k+1)*bi).T(), e.Slice(0, r, k*bo, (k+1)*bo))
		g.Add(g, &part)
	}
	for j := range gb {
		gb[j] = 0
	}
	eachRow(e, func(_ int, row []float64) {
		for k := 0; k < s.instances; k++ {
			floats.Add(gb, row[k*bo:(k+1)*bo])
		}
	})
	s.frames = r
}

func (s *SharedLinear) AccuGradient(src Updatable, thr, thrN int) error {
	o, ok := src.(*SharedLinear)
	if !ok {
		return ConfigError("cannot accumulate %s into %s", src.Kind(), s.Kind())
	}
	return s.accuGradient(&o.linearity, thr, thrN)
}

func (s *SharedLinear) Update(thr, thrN int)    { s.update(thr, thrN) }
func (s *SharedLinear) ResetFrames()            { s.resetFrames() }
func (s *SharedLinear) Params() TrainParams     { return s.params }
func (s *SharedLinear) SetParams(p TrainParams) { s.params = p }

func (s *SharedLinear) readBody(r bodyReader) error {
	k, err := r.readInt()
	if err != nil {
		return err
	}
	if k <= 0 || s.nIn%k != 0 || s.nOut%k != 0 {
		return ConfigError("%s: %d instances do not divide widths %d %d", s.Kind(), k, s.nOut, s.nIn)
	}
	s.instances = k
	bi, bo := s.blocks()
	wt, err := readMatrixShape(r, s.Kind(), bo, bi)
	if err != nil {
		return err
	}
	b, err := readVectorLen(r, s.Kind(), bo)
	if err != nil {
		return err
	}
	s.linearity = newLinearity(transposed(wt), b)
	return nil
}

func (s *SharedLinear) writeBody(w bodyWriter) error {
	if err := w.writeInt(s.instances); err != nil {
		return err
	}
	if err := w.writeMatrix(transposed(s.w)); err != nil {
		return err
	}
	return w.writeVector(s.b)
}

func addRowVector(m *mat.Dense, v []float64) {
	eachRow(m, func(_ int, row []float64) {
		floats.Add(row, v)
	})
}

func colSums(dst []float64, m *mat.Dense) {
	for j := range dst {
		dst[j] = 0
	}
	eachRow(m, func(_ int, row []float64) {
		floats.Add(dst, row)
	})
}
