package neuralnet

import (
	"bytes"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// everyKind builds a network using every component variant.
func everyKind(t *testing.T) *Network {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	expand, err := NewExpand(4, []int{-1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	index := make([]int, 12)
	window := make([]float64, 12)
	bias := make([]float64, 12)
	for i := range index {
		index[i] = 11 - i
		window[i] = 0.5 + float64(i)/12
		bias[i] = rng.NormFloat64()
	}
	cp, err := NewCopy(12, index)
	if err != nil {
		t.Fatal(err)
	}
	bl, err := NewBlockLinear(12, randomDense(rng, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	shared, err := NewSharedLinear(8, 4, 2, rng)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := NewBlockArray(
		mustNetwork(t, NewAffine(2, 3, rng), NewSigmoid(3)),
		mustNetwork(t, NewAffine(2, 1, rng)),
	)
	if err != nil {
		t.Fatal(err)
	}
	bs, err := NewBlockSoftmax([]int{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	return mustNetwork(t, expand, cp, NewWindow(window), NewBias(bias), bl,
		NewAffine(6, 8, rng), shared, NewTanh(4), ba, NewSigmoid(4), NewLog(4), bs,
		NewAffine(4, 3, rng), NewSoftmax(3))
}

func collectKinds(n *Network, seen map[Kind]bool) {
	for i := 0; i < n.Len(); i++ {
		c := n.Component(i)
		seen[c.Kind()] = true
		if ba, ok := c.(*BlockArray); ok {
			for _, b := range ba.Blocks() {
				collectKinds(b, seen)
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	n := everyKind(t)
	seen := map[Kind]bool{}
	collectKinds(n, seen)
	if len(seen) != len(kindTags) {
		t.Fatalf("test network covers %d kinds; want %d", len(seen), len(kindTags))
	}

	var text bytes.Buffer
	if err := n.Write(&text); err != nil {
		t.Fatal(err)
	}
	x := randomDense(rand.New(rand.NewSource(12)), 7, 4)
	var want mat.Dense
	if err := n.Propagate(x, &want); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		description string
		write       func(*Network, *bytes.Buffer) error
	}{
		{"text", func(n *Network, b *bytes.Buffer) error { return n.Write(b) }},
		{"binary", func(n *Network, b *bytes.Buffer) error { return n.WriteBinary(b) }},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.write(n, &buf); err != nil {
				t.Fatal(err)
			}
			got, err := ReadNetwork(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if got.Len() != n.Len() || got.InputDim() != 4 || got.OutputDim() != 3 {
				t.Fatalf("read back %d components %d -> %d", got.Len(), got.InputDim(), got.OutputDim())
			}
			var y mat.Dense
			if err := got.Propagate(x, &y); err != nil {
				t.Fatal(err)
			}
			if !mat.Equal(&want, &y) {
				t.Error("read back network computes a different output")
			}
			var again bytes.Buffer
			if err := got.Write(&again); err != nil {
				t.Fatal(err)
			}
			if again.String() != text.String() {
				t.Errorf("re-encoded text differs:\n%s\nwant:\n%s", again.String(), text.String())
			}
		})
	}
}

func TestTextLayout(t *testing.T) {
	w := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	a, err := NewAffineFrom(w, []float64{0.5, -1})
	if err != nil {
		t.Fatal(err)
	}
	ba, err := NewBlockArray(mustNetwork(t, NewSigmoid(2)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := mustNetwork(t, a, ba).Write(&buf); err != nil {
		t.Fatal(err)
	}
	want := "<biasedlinearity> 2 3\n" +
		"m 2 3\n" +
		"1 3 5\n" +
		"2 4 6\n" +
		"v 2\n" +
		"0.5 -1\n" +
		"<blockarray> 2 2\n" +
		"1\n" +
		"<sigmoid> 2 2\n" +
		"<endblock>\n"
	if buf.String() != want {
		t.Errorf("Write() =\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestReadNetworkErrors(t *testing.T) {
	tests := []struct {
		description string
		input       string
	}{
		{"unsupported rbm", "<rbm> 3 3\n"},
		{"unknown tag", "<maxout> 3 3\n"},
		{"width mismatch", "<sigmoid> 3 3\n<tanh> 4 4\n"},
		{"elementwise widths differ", "<sigmoid> 3 4\n"},
		{"truncated matrix", "<biasedlinearity> 2 3\nm 2 3\n1 2 3\n4 5\n"},
		{"matrix shape", "<biasedlinearity> 2 3\nm 3 2\n1 2\n3 4\n5 6\nv 2\n0 0\n"},
		{"not a number", "<bias> 2 2\nv 2\n1 x\n"},
		{"missing endblock", "<blockarray> 2 2\n1\n<sigmoid> 2 2\n"},
		{"stray endblock", "<sigmoid> 2 2\n<endblock>\n"},
		{"copy index out of range", "<copy> 2 2\nv 2\n0 2\n"},
		{"expand widths", "<expand> 5 2\nv 2\n0 1\n"},
		{"oversized matrix", "<biasedlinearity> 2 3\nm 100000 100000\n1\n"},
		{"oversized vector", "<bias> 2 2\nv 4000000000\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := ReadNetwork(strings.NewReader(tt.input))
			if !errors.Is(err, ErrConfig) {
				t.Errorf("ReadNetwork() = %v; want a config error", err)
			}
		})
	}
}

func TestReadTruncatedBinary(t *testing.T) {
	var buf bytes.Buffer
	if err := everyKind(t).WriteBinary(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-1]
	if _, err := ReadNetwork(bytes.NewReader(data)); !errors.Is(err, ErrConfig) {
		t.Errorf("ReadNetwork(truncated) = %v; want a config error", err)
	}
}

func TestReadEmpty(t *testing.T) {
	n, err := ReadNetwork(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if n.Len() != 0 {
		t.Errorf("empty input gave %d components", n.Len())
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	n := everyKind(t)
	dir := t.TempDir()
	for _, binary := range []bool{false, true} {
		name := filepath.Join(dir, "net.txt")
		if binary {
			name = filepath.Join(dir, "net.bin")
		}
		if err := n.SaveFile(name, binary); err != nil {
			t.Fatal(err)
		}
		got, err := LoadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if got.Len() != n.Len() {
			t.Errorf("%s: loaded %d components; want %d", name, got.Len(), n.Len())
		}
	}
	if _, err := LoadFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadFile of a missing file succeeded")
	}
}
