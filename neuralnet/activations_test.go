package neuralnet

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestSigmoidActivate(t *testing.T) {
	s := Sigmoid{}
	if got := s.Activate(0); !floatEquals(got, 0.5, 1e-12) {
		t.Errorf("Sigmoid.Activate(0) = %v; want 0.5", got)
	}
	y := s.Activate(2)
	if got, want := s.Derivative(2, y), y*(1-y); !floatEquals(got, want, 1e-12) {
		t.Errorf("Sigmoid.Derivative(2) = %v; want %v", got, want)
	}
}

func TestTanhActivate(t *testing.T) {
	th := Tanh{}
	if got := th.Activate(0); got != 0 {
		t.Errorf("Tanh.Activate(0) = %v; want 0", got)
	}
	if got := th.Derivative(0, 0); got != 1 {
		t.Errorf("Tanh.Derivative(0) = %v; want 1", got)
	}
}

func TestSoftmaxRows(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		1000, 1000, 1000, // large inputs must not overflow
	})
	var y mat.Dense
	if err := Propagate(NewSoftmax(3), x, &y); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if sum := floats.Sum(y.RawRowView(i)); !floatEquals(sum, 1, 1e-12) {
			t.Errorf("row %d sums to %v; want 1", i, sum)
		}
	}
	if got := y.At(1, 0); !floatEquals(got, 1.0/3, 1e-12) {
		t.Errorf("softmax of equal inputs = %v; want 1/3", got)
	}
	if y.At(0, 2) <= y.At(0, 1) || y.At(0, 1) <= y.At(0, 0) {
		t.Errorf("softmax is not monotonic: %v", y.RawRowView(0))
	}
}

func TestBlockSoftmax(t *testing.T) {
	s, err := NewBlockSoftmax([]int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	x := mat.NewDense(1, 5, []float64{0, 0, 1, 2, 3})
	var y mat.Dense
	if err := Propagate(s, x, &y); err != nil {
		t.Fatal(err)
	}
	row := y.RawRowView(0)
	if got := floats.Sum(row[:2]); !floatEquals(got, 1, 1e-12) {
		t.Errorf("first block sums to %v; want 1", got)
	}
	if got := floats.Sum(row[2:]); !floatEquals(got, 1, 1e-12) {
		t.Errorf("second block sums to %v; want 1", got)
	}
	if _, err := NewBlockSoftmax([]int{2, 0}); err == nil {
		t.Error("NewBlockSoftmax accepted an empty block")
	}
}

func TestComponentWidthCheck(t *testing.T) {
	var y mat.Dense
	err := Propagate(NewSigmoid(3), mat.NewDense(2, 4, nil), &y)
	if !errorsIsDimension(err) {
		t.Errorf("Propagate with 4 columns into width 3 = %v; want a dimension mismatch", err)
	}
	e := mat.NewDense(3, 3, nil)
	var d mat.Dense
	x := mat.NewDense(2, 3, nil)
	if err := Propagate(NewSigmoid(3), x, &y); err != nil {
		t.Fatal(err)
	}
	if err := Backpropagate(NewSigmoid(3), x, &y, e, &d); !errorsIsDimension(err) {
		t.Errorf("Backpropagate with 3 error rows for 2 input rows = %v; want a dimension mismatch", err)
	}
}
