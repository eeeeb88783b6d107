package neuralnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Objective evaluates network outputs against targets bunch by bunch and
// accumulates the statistics of a run. Each worker owns one; they are merged
// when training ends.
type Objective interface {
	// Evaluate stores in e the error at the network output, out - target,
	// and accumulates the loss of the bunch.
	Evaluate(out, target, e *mat.Dense) error
	// Merge adds the statistics of other, which must be of the same kind.
	Merge(other Objective) error
	// Clone returns an objective of the same kind with empty statistics.
	Clone() Objective
	Frames() int
	Loss() float64
	Report() string
}

// NewObjective returns the objective named "xent" or "mse".
func NewObjective(name string) (Objective, error) {
	switch name {
	case "xent", "crossentropy":
		return &CrossEntropy{}, nil
	case "mse":
		return &MeanSquareError{}, nil
	}
	return nil, ConfigError("unknown objective %q", name)
}

func outputError(out, target, e *mat.Dense) error {
	r, c := out.Dims()
	if tr, tc := target.Dims(); tr != r || tc != c {
		return DimensionError("output is %dx%d, target is %dx%d", r, c, tr, tc)
	}
	reshape(e, r, c)
	e.Sub(out, target)
	return nil
}

// CrossEntropy is the categorical cross-entropy of softmax outputs against
// one-hot targets. It also counts the frames whose most probable class is
// the target class.
type CrossEntropy struct {
	frames  int
	correct int
	loss    float64
}

// Evaluate implements Objective. The error out - target is the derivative
// with respect to the softmax input.
func (ce *CrossEntropy) Evaluate(out, target, e *mat.Dense) error {
	if err := outputError(out, target, e); err != nil {
		return err
	}
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		y, t := out.RawRowView(i), target.RawRowView(i)
		for j, p := range y {
			if t[j] == 0 {
				continue
			}
			if p < 1e-15 {
				p = 1e-15
			}
			ce.loss -= t[j] * math.Log(p)
		}
	}
	hyp, err := argmaxRows(out)
	if err != nil {
		return err
	}
	ref, err := argmaxRows(target)
	if err != nil {
		return err
	}
	for i := range hyp {
		if hyp[i] == ref[i] {
			ce.correct++
		}
	}
	ce.frames += r
	return nil
}

func (ce *CrossEntropy) Merge(other Objective) error {
	o, ok := other.(*CrossEntropy)
	if !ok {
		return ConfigError("cannot merge %T into cross entropy", other)
	}
	ce.frames += o.frames
	ce.correct += o.correct
	ce.loss += o.loss
	return nil
}

func (ce *CrossEntropy) Clone() Objective { return &CrossEntropy{} }
func (ce *CrossEntropy) Frames() int      { return ce.frames }
func (ce *CrossEntropy) Loss() float64    { return ce.loss }

// Accuracy returns the fraction of correctly classified frames.
func (ce *CrossEntropy) Accuracy() float64 {
	if ce.frames == 0 {
		return 0
	}
	return float64(ce.correct) / float64(ce.frames)
}

func (ce *CrossEntropy) Report() string {
	avg := 0.0
	if ce.frames > 0 {
		avg = ce.loss / float64(ce.frames)
	}
	return fmt.Sprintf("xent: %d frames, loss %.6g (%.6g per frame), frame accuracy %.2f%%",
		ce.frames, ce.loss, avg, 100*ce.Accuracy())
}

// argmaxRows returns the column of the largest entry of every row.
func argmaxRows(m *mat.Dense) ([]int, error) {
	r, c := m.Dims()
	raw := m.RawMatrix()
	data := raw.Data
	if raw.Stride != c || len(data) != r*c {
		data = make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, m.RawRowView(i)...)
		}
	}
	t := tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
	idx, err := t.Argmax(1)
	if err != nil {
		return nil, err
	}
	switch v := idx.Data().(type) {
	case []int:
		return v, nil
	case int:
		return []int{v}, nil
	}
	return nil, fmt.Errorf("argmax returned %T", idx.Data())
}

// MeanSquareError is half the summed squared difference of outputs and targets.
type MeanSquareError struct {
	frames int
	loss   float64
}

func (ms *MeanSquareError) Evaluate(out, target, e *mat.Dense) error {
	if err := outputError(out, target, e); err != nil {
		return err
	}
	r, _ := e.Dims()
	for i := 0; i < r; i++ {
		row := e.RawRowView(i)
		ms.loss += 0.5 * floats.Dot(row, row)
	}
	ms.frames += r
	return nil
}

func (ms *MeanSquareError) Merge(other Objective) error {
	o, ok := other.(*MeanSquareError)
	if !ok {
		return ConfigError("cannot merge %T into mean square error", other)
	}
	ms.frames += o.frames
	ms.loss += o.loss
	return nil
}

func (ms *MeanSquareError) Clone() Objective { return &MeanSquareError{} }
func (ms *MeanSquareError) Frames() int      { return ms.frames }
func (ms *MeanSquareError) Loss() float64    { return ms.loss }

func (ms *MeanSquareError) Report() string {
	avg := 0.0
	if ms.frames > 0 {
		avg = ms.loss / float64(ms.frames)
	}
	return fmt.Sprintf("mse: %d frames, loss %.6g (%.6g per frame)", ms.frames, ms.loss, avg)
}
