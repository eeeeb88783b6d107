package neuralnet

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func errorsIsDimension(err error) bool { return errors.Is(err, ErrDimensionMismatch) }

func TestCrossEntropyEvaluate(t *testing.T) {
	ce := &CrossEntropy{}
	out := mat.NewDense(2, 2, []float64{
		0.6, 0.4,
		0.2, 0.8,
	})
	target := mat.NewDense(2, 2, []float64{
		1, 0,
		1, 0,
	})
	var e mat.Dense
	if err := ce.Evaluate(out, target, &e); err != nil {
		t.Fatal(err)
	}
	wantLoss := -math.Log(0.6) - math.Log(0.2)
	if !floatEquals(ce.Loss(), wantLoss, 1e-12) {
		t.Errorf("Loss() = %v; want %v", ce.Loss(), wantLoss)
	}
	wantErr := []float64{-0.4, 0.4, -0.8, 0.8}
	for i, want := range wantErr {
		if got := e.At(i/2, i%2); !floatEquals(got, want, 1e-12) {
			t.Errorf("e[%d] = %v; want %v", i, got, want)
		}
	}
	if ce.Frames() != 2 {
		t.Errorf("Frames() = %d; want 2", ce.Frames())
	}
	if got := ce.Accuracy(); got != 0.5 {
		t.Errorf("Accuracy() = %v; want 0.5", got)
	}
	if !strings.HasPrefix(ce.Report(), "xent: 2 frames") {
		t.Errorf("Report() = %q", ce.Report())
	}
}

func TestMeanSquareError(t *testing.T) {
	ms := &MeanSquareError{}
	out := mat.NewDense(1, 3, []float64{1, 2, 3})
	target := mat.NewDense(1, 3, []float64{1, 0, 0})
	var e mat.Dense
	if err := ms.Evaluate(out, target, &e); err != nil {
		t.Fatal(err)
	}
	if want := 0.5 * (4 + 9); !floatEquals(ms.Loss(), want, 1e-12) {
		t.Errorf("Loss() = %v; want %v", ms.Loss(), want)
	}
	if err := ms.Evaluate(out, mat.NewDense(2, 3, nil), &e); !errorsIsDimension(err) {
		t.Errorf("Evaluate with mismatched target = %v; want a dimension mismatch", err)
	}
}

func TestObjectiveMerge(t *testing.T) {
	a, err := NewObjective("xent")
	if err != nil {
		t.Fatal(err)
	}
	b := a.Clone()
	out := mat.NewDense(1, 2, []float64{0.9, 0.1})
	target := mat.NewDense(1, 2, []float64{1, 0})
	var e mat.Dense
	for _, o := range []Objective{a, b, b} {
		if err := o.Evaluate(out, target, &e); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	if a.Frames() != 3 {
		t.Errorf("merged Frames() = %d; want 3", a.Frames())
	}
	if want := -3 * math.Log(0.9); !floatEquals(a.Loss(), want, 1e-12) {
		t.Errorf("merged Loss() = %v; want %v", a.Loss(), want)
	}
	if err := a.Merge(&MeanSquareError{}); !errors.Is(err, ErrConfig) {
		t.Errorf("Merge of a different kind = %v; want a config error", err)
	}
	if _, err := NewObjective("hinge"); !errors.Is(err, ErrConfig) {
		t.Errorf("NewObjective(hinge) = %v; want a config error", err)
	}
}
