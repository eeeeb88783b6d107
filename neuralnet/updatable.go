package neuralnet

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"tnet/parallel"
)

// Updatable is a component with learnable parameters. Training a bunch runs
// three phases: Gradient on every replica, AccuGradient of all replicas into
// the master, Update of the master. AccuGradient and Update touch only the rows
// owned by (thr, thrN), so threads may call them concurrently on one instance.
type Updatable interface {
	Component

	Gradient(x, e *mat.Dense)
	// AccuGradient adds the rows of src's local gradient owned by thr into
	// this instance's accumulator.
	AccuGradient(src Updatable, thr, thrN int) error
	Update(thr, thrN int)
	ResetFrames()

	Params() TrainParams
	SetParams(p TrainParams)
}

// linearity is the parameter and gradient state shared by the affine and the
// shared linear component. w and b are shared between clones; everything else
// belongs to one instance.
type linearity struct {
	w *mat.Dense // inputs x outputs
	b []float64

	grad   *mat.Dense
	gradB  []float64
	frames int

	// accumulator and momentum buffers, present on instances that were not cloned
	accu       *mat.Dense
	accuB      []float64
	accuFrames int
	corr       *mat.Dense
	corrB      []float64

	params TrainParams
}

func newLinearity(w *mat.Dense, b []float64) linearity {
	l := linearity{w: w, b: b}
	l.allocAccumulators()
	return l
}

func (l *linearity) allocAccumulators() {
	r, c := l.w.Dims()
	l.accu = mat.NewDense(r, c, nil)
	l.corr = mat.NewDense(r, c, nil)
	l.accuB = make([]float64, len(l.b))
	l.corrB = make([]float64, len(l.b))
}

// clone shares the parameters and starts with empty gradient state.
func (l *linearity) clone() linearity {
	return linearity{w: l.w, b: l.b, params: l.params}
}

func (l *linearity) localGradient() (*mat.Dense, []float64) {
	if l.grad == nil {
		r, c := l.w.Dims()
		l.grad = mat.NewDense(r, c, nil)
		l.gradB = make([]float64, len(l.b))
	}
	return l.grad, l.gradB
}

func (l *linearity) accuGradient(src *linearity, thr, thrN int) error {
	if l.accu == nil {
		return ConfigError("accumulating into a replica without accumulators")
	}
	if src.grad == nil {
		return nil
	}
	sr, sc := src.grad.Dims()
	if ar, ac := l.accu.Dims(); sr != ar || sc != ac {
		return DimensionError("gradient %dx%d does not match accumulator %dx%d", sr, sc, ar, ac)
	}
	if acc := parallel.RowRange(l.accu, thr, thrN); acc != nil {
		acc.Add(acc, parallel.RowRange(src.grad, thr, thrN))
	}
	accB := parallel.SliceRange(l.accuB, thr, thrN)
	for i, g := range parallel.SliceRange(src.gradB, thr, thrN) {
		accB[i] += g
	}
	if thr == 0 {
		l.accuFrames += src.frames
	}
	return nil
}

func (l *linearity) update(thr, thrN int) {
	p := l.params
	cost := p.WeightCost * float64(l.accuFrames)
	if w := parallel.RowRange(l.w, thr, thrN); w != nil {
		corr := parallel.RowRange(l.corr, thr, thrN)
		acc := parallel.RowRange(l.accu, thr, thrN)
		r, _ := w.Dims()
		for i := 0; i < r; i++ {
			sgdStep(w.RawRowView(i), corr.RawRowView(i), acc.RawRowView(i), p.LearnRate, p.Momentum, cost)
		}
	}
	sgdStep(parallel.SliceRange(l.b, thr, thrN),
		parallel.SliceRange(l.corrB, thr, thrN),
		parallel.SliceRange(l.accuB, thr, thrN),
		p.LearnRate, p.Momentum, 0)
}

func (l *linearity) resetFrames() { l.accuFrames = 0 }

// xavierInit fills m with uniform values in ±sqrt(6/(fanIn+fanOut)).
func xavierInit(m *mat.Dense, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	eachRow(m, func(_ int, row []float64) {
		for j := range row {
			row[j] = (2*rng.Float64() - 1) * limit
		}
	})
}
