package neuralnet

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func mustNetwork(t *testing.T, components ...Component) *Network {
	t.Helper()
	n, err := NewNetwork(components...)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestAffineSigmoidForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := randomDense(rng, 5, 4)
	w := randomDense(rng, 4, 3)
	b := []float64{0.1, -0.2, 0.3}
	affine, err := NewAffineFrom(w, b)
	if err != nil {
		t.Fatal(err)
	}
	n := mustNetwork(t, affine, NewSigmoid(3))

	var y mat.Dense
	if err := n.Propagate(x, &y); err != nil {
		t.Fatal(err)
	}
	if r, c := y.Dims(); r != 5 || c != 3 {
		t.Fatalf("output is %dx%d; want 5x3", r, c)
	}
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			z := b[j]
			for k := 0; k < 4; k++ {
				z += x.At(i, k) * w.At(k, j)
			}
			if want := 1 / (1 + math.Exp(-z)); !floatEquals(y.At(i, j), want, 1e-12) {
				t.Errorf("y[%d,%d] = %v; want %v", i, j, y.At(i, j), want)
			}
		}
	}
}

func TestNetworkDimensions(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := mustNetwork(t, NewAffine(4, 3, rng))
	if err := n.Append(NewSigmoid(2)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Append of a 2-wide sigmoid after 3 outputs = %v; want a dimension mismatch", err)
	}
	var y mat.Dense
	if err := n.Propagate(mat.NewDense(2, 5, nil), &y); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Propagate with 5 columns = %v; want a dimension mismatch", err)
	}
	if err := n.Propagate(mat.NewDense(2, 4, nil), &y); err != nil {
		t.Fatal(err)
	}
	if err := n.Backpropagate(mat.NewDense(3, 3, nil)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Backpropagate with 3 error rows = %v; want a dimension mismatch", err)
	}

	empty := mustNetwork(t)
	x := randomDense(rng, 2, 2)
	if err := empty.Propagate(x, &y); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(x, &y) {
		t.Error("empty network is not the identity")
	}
}

// squaredLoss returns ½Σ(y−t)² of the network output for x.
func squaredLoss(n *Network, x, target *mat.Dense) float64 {
	var y mat.Dense
	if err := n.Propagate(x, &y); err != nil {
		panic(err)
	}
	var d mat.Dense
	d.Sub(&y, target)
	var sum float64
	for _, v := range d.RawMatrix().Data {
		sum += v * v
	}
	return 0.5 * sum
}

func TestBackpropagateMatchesNumericalGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	first := NewAffine(3, 4, rng)
	shared, err := NewSharedLinear(4, 2, 2, rng)
	if err != nil {
		t.Fatal(err)
	}
	expand, err := NewExpand(3, []int{-1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	n := mustNetwork(t, first, NewTanh(4), shared, NewSigmoid(2), NewAffine(2, 3, rng),
		NewBias([]float64{0.1, 0.2, 0.3}), expand, NewAffine(9, 2, rng))
	x := randomDense(rng, 6, 3)
	target := randomDense(rng, 6, 2)

	var y, e mat.Dense
	if err := n.Propagate(x, &y); err != nil {
		t.Fatal(err)
	}
	e.Sub(&y, target)
	inErr := &mat.Dense{}
	if err := n.backward(&e, inErr, true); err != nil {
		t.Fatal(err)
	}

	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	check := func(name string, params []float64, analytic []float64) {
		t.Helper()
		orig := append([]float64(nil), params...)
		numeric := fd.Gradient(nil, func(p []float64) float64 {
			copy(params, p)
			defer copy(params, orig)
			return squaredLoss(n, x, target)
		}, orig, settings)
		for i := range numeric {
			if !floatEquals(analytic[i], numeric[i], 1e-5) {
				t.Errorf("%s gradient[%d] = %v; numerical %v", name, i, analytic[i], numeric[i])
			}
		}
	}
	check("affine weights", first.w.RawMatrix().Data, first.grad.RawMatrix().Data)
	check("affine bias", first.b, first.gradB)
	check("shared weights", shared.w.RawMatrix().Data, shared.grad.RawMatrix().Data)
	check("shared bias", shared.b, shared.gradB)

	// the error with respect to the input
	xa := append([]float64(nil), x.RawMatrix().Data...)
	check("input", x.RawMatrix().Data, mat.DenseCopyOf(inErr).RawMatrix().Data)
	if !floatsEqual(xa, x.RawMatrix().Data) {
		t.Error("gradient check changed the input")
	}
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFeedforwardMatchesPropagate(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	expand, err := NewExpand(3, []int{-2, -1, 0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	n := mustNetwork(t, expand, NewAffine(15, 4, rng), NewSigmoid(4))
	n.SetBlockSize(7)
	x := randomDense(rng, 50, 3)

	var whole, blocked mat.Dense
	if err := n.Propagate(x, &whole); err != nil {
		t.Fatal(err)
	}
	left, right := n.Context()
	if left != 2 || right != 2 {
		t.Fatalf("Context() = %d, %d; want 2, 2", left, right)
	}
	if err := n.Feedforward(x, &blocked, left, right); err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(&whole, &blocked, 1e-12) {
		t.Error("Feedforward differs from Propagate")
	}

	// short inputs go through Propagate directly
	short := randomDense(rng, 10, 3)
	if err := n.Feedforward(short, &blocked, left, right); err != nil {
		t.Fatal(err)
	}
	if r, _ := blocked.Dims(); r != 10 {
		t.Errorf("Feedforward of 10 rows returned %d", r)
	}
}

func TestCloneSharesParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	master := mustNetwork(t, NewAffine(2, 2, rng), NewSoftmax(2))
	replica := master.Clone()
	x := randomDense(rng, 3, 2)

	var before, after mat.Dense
	if err := replica.Propagate(x, &before); err != nil {
		t.Fatal(err)
	}
	master.Component(0).(*Affine).Weights().Set(0, 0, 5)
	if err := replica.Propagate(x, &after); err != nil {
		t.Fatal(err)
	}
	if mat.Equal(&before, &after) {
		t.Error("replica does not see the master's weight change")
	}
	if err := replica.AccuGradient(master, 0, 1); !errors.Is(err, ErrConfig) {
		t.Errorf("accumulating into a replica = %v; want a config error", err)
	}
}

func TestAccuGradientAndUpdate(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	master := mustNetwork(t, NewAffine(5, 3, rng))
	if err := master.SetTrainParams(TrainParams{LearnRate: 0.1}, nil); err != nil {
		t.Fatal(err)
	}
	affine := master.Component(0).(*Affine)
	w0 := mat.DenseCopyOf(affine.Weights())
	b0 := append([]float64(nil), affine.Bias()...)

	replicas := []*Network{master.Clone(), master.Clone()}
	var sumW mat.Dense
	sumB := make([]float64, 3)
	frames := 0
	for i, r := range replicas {
		x := randomDense(rng, 4+i, 5)
		e := randomDense(rng, 4+i, 3)
		var y mat.Dense
		if err := r.Propagate(x, &y); err != nil {
			t.Fatal(err)
		}
		if err := r.Backpropagate(e); err != nil {
			t.Fatal(err)
		}
		var g mat.Dense
		g.Mul(x.T(), e)
		if i == 0 {
			sumW.CloneFrom(&g)
		} else {
			sumW.Add(&sumW, &g)
		}
		for j := range sumB {
			sumB[j] += mat.Sum(e.ColView(j))
		}
		frames += 4 + i
	}

	const thrN = 3
	var wg sync.WaitGroup
	errs := make([]error, thrN)
	for thr := 0; thr < thrN; thr++ {
		wg.Add(1)
		go func(thr int) {
			defer wg.Done()
			for _, r := range replicas {
				if err := master.AccuGradient(r, thr, thrN); err != nil {
					errs[thr] = err
					return
				}
			}
		}(thr)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if !mat.EqualApprox(affine.accu, &sumW, 1e-12) {
		t.Error("accumulated gradient differs from the sum of replica gradients")
	}
	if affine.accuFrames != frames {
		t.Errorf("accumulated %d frames; want %d", affine.accuFrames, frames)
	}

	for thr := 0; thr < thrN; thr++ {
		wg.Add(1)
		go func(thr int) {
			defer wg.Done()
			master.Update(thr, thrN)
		}(thr)
	}
	wg.Wait()

	var want mat.Dense
	want.Scale(-0.1, &sumW)
	want.Add(w0, &want)
	if !mat.EqualApprox(affine.Weights(), &want, 1e-12) {
		t.Error("updated weights differ from w - lr*gradient")
	}
	for j := range b0 {
		if got := b0[j] - 0.1*sumB[j]; !floatEquals(affine.Bias()[j], got, 1e-12) {
			t.Errorf("bias[%d] = %v; want %v", j, affine.Bias()[j], got)
		}
	}
	if mat.Sum(affine.accu) != 0 {
		t.Error("accumulator not cleared by Update")
	}
	master.ResetFrames()
	if affine.accuFrames != 0 {
		t.Errorf("ResetFrames left %d frames", affine.accuFrames)
	}
}

func TestWeightCostScalesWithFrames(t *testing.T) {
	w := mat.NewDense(1, 1, []float64{2})
	a, err := NewAffineFrom(w, []float64{0})
	if err != nil {
		t.Fatal(err)
	}
	a.SetParams(TrainParams{LearnRate: 0.5, WeightCost: 0.1})
	a.accuFrames = 4
	a.Update(0, 1)
	// corr = 0 + 0.1*4*2
	if got, want := w.At(0, 0), 2-0.5*0.8; !floatEquals(got, want, 1e-12) {
		t.Errorf("weight after decay = %v; want %v", got, want)
	}
}

func TestSetTrainParams(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := mustNetwork(t, NewAffine(2, 2, rng), NewSigmoid(2), NewAffine(2, 2, rng))
	if err := n.SetTrainParams(TrainParams{LearnRate: 0.1}, []float64{1}); !errors.Is(err, ErrConfig) {
		t.Errorf("one factor for two updatables = %v; want a config error", err)
	}
	if err := n.SetTrainParams(TrainParams{LearnRate: 0.1}, []float64{1, 0.5}); err != nil {
		t.Fatal(err)
	}
	if got := n.Updatables()[1].Params().LearnRate; !floatEquals(got, 0.05, 1e-15) {
		t.Errorf("scaled learning rate = %v; want 0.05", got)
	}
}

func TestBlockArrayPanicsOnNestedFailure(t *testing.T) {
	ba, err := NewBlockArray(mustNetwork(t, NewSigmoid(2)), mustNetwork(t, NewTanh(3)))
	if err != nil {
		t.Fatal(err)
	}
	x := randomDense(rand.New(rand.NewSource(1)), 4, 5)
	var y, d mat.Dense
	e := mat.NewDense(4, 5, nil)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("backpropagate without a forward pass did not panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "block 0") {
			t.Errorf("panic = %v; want it to name the failing block", r)
		}
	}()
	reshape(&y, 4, 5)
	_ = Backpropagate(ba, x, &y, e, &d)
}
