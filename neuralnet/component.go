package neuralnet

import (
	"gonum.org/v1/gonum/mat"
)

// Kind identifies a component variant. Its String form is the tag used on disk.
type Kind int

const (
	KindAffine Kind = iota
	KindSharedLinear
	KindSigmoid
	KindTanh
	KindSoftmax
	KindBlockSoftmax
	KindExpand
	KindCopy
	KindBlockLinear
	KindBias
	KindWindow
	KindLog
	KindBlockArray
)

var kindTags = [...]string{
	KindAffine:       "<biasedlinearity>",
	KindSharedLinear: "<sharedlinearity>",
	KindSigmoid:      "<sigmoid>",
	KindTanh:         "<tanh>",
	KindSoftmax:      "<softmax>",
	KindBlockSoftmax: "<blocksoftmax>",
	KindExpand:       "<expand>",
	KindCopy:         "<copy>",
	KindBlockLinear:  "<blocklinearity>",
	KindBias:         "<bias>",
	KindWindow:       "<window>",
	KindLog:          "<log>",
	KindBlockArray:   "<blockarray>",
}

// endBlockTag terminates a nested network inside a block array.
const endBlockTag = "<endblock>"

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindTags) {
		return "<unknown>"
	}
	return kindTags[k]
}

// ParseKind maps an on-disk tag to its component kind.
func ParseKind(tag string) (Kind, error) {
	switch tag {
	case "<biasedlinearity>":
		return KindAffine, nil
	case "<sharedlinearity>":
		return KindSharedLinear, nil
	case "<sigmoid>":
		return KindSigmoid, nil
	case "<tanh>":
		return KindTanh, nil
	case "<softmax>":
		return KindSoftmax, nil
	case "<blocksoftmax>":
		return KindBlockSoftmax, nil
	case "<expand>":
		return KindExpand, nil
	case "<copy>":
		return KindCopy, nil
	case "<blocklinearity>":
		return KindBlockLinear, nil
	case "<bias>":
		return KindBias, nil
	case "<window>":
		return KindWindow, nil
	case "<log>":
		return KindLog, nil
	case "<blockarray>":
		return KindBlockArray, nil
	case "<rbm>":
		return 0, ConfigError("component %s is not supported", tag)
	}
	return 0, ConfigError("unknown component tag %q", tag)
}

// Component is one stage of a network with a fixed input and output width.
// Variants are defined in this package only.
type Component interface {
	Kind() Kind
	InputDim() int
	OutputDim() int

	// Clone returns a component of the same shape. Updatable components share
	// their parameter storage with the original and own a private gradient.
	Clone() Component

	// propagate computes y from x; y is already shaped (x.rows, OutputDim).
	propagate(x, y *mat.Dense)
	// backpropagate computes the input error d from the output error e, given
	// the forward input x and output y; d is already shaped (e.rows, InputDim).
	backpropagate(x, y, e, d *mat.Dense)

	readBody(r bodyReader) error
	writeBody(w bodyWriter) error
}

// newComponent is the factory used while reading a network.
func newComponent(kind Kind, outputs, inputs int) (Component, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, ConfigError("%s has non-positive widths %d %d", kind, outputs, inputs)
	}
	switch kind {
	case KindAffine:
		return &Affine{nIn: inputs, nOut: outputs}, nil
	case KindSharedLinear:
		return &SharedLinear{nIn: inputs, nOut: outputs}, nil
	case KindSigmoid, KindTanh, KindSoftmax, KindLog:
		if inputs != outputs {
			return nil, ConfigError("%s needs equal widths, got %d %d", kind, outputs, inputs)
		}
		switch kind {
		case KindSigmoid:
			return NewSigmoid(inputs), nil
		case KindTanh:
			return NewTanh(inputs), nil
		case KindSoftmax:
			return NewSoftmax(inputs), nil
		}
		return NewLog(inputs), nil
	case KindBlockSoftmax:
		if inputs != outputs {
			return nil, ConfigError("%s needs equal widths, got %d %d", kind, outputs, inputs)
		}
		return &BlockSoftmax{dim: inputs}, nil
	case KindExpand:
		return &Expand{nIn: inputs, nOut: outputs}, nil
	case KindCopy:
		return &Copy{nIn: inputs, nOut: outputs}, nil
	case KindBlockLinear:
		return &BlockLinear{nIn: inputs, nOut: outputs}, nil
	case KindBias, KindWindow:
		if inputs != outputs {
			return nil, ConfigError("%s needs equal widths, got %d %d", kind, outputs, inputs)
		}
		if kind == KindBias {
			return &Bias{dim: inputs}, nil
		}
		return &Window{dim: inputs}, nil
	case KindBlockArray:
		return &BlockArray{nIn: inputs, nOut: outputs}, nil
	}
	return nil, ConfigError("no constructor for %s", kind)
}

// Propagate runs c forward on x into y, shaping y to (x.rows, c.OutputDim()).
func Propagate(c Component, x, y *mat.Dense) error {
	r, cols := x.Dims()
	if cols != c.InputDim() {
		return DimensionError("%s expects %d input columns, got %d", c.Kind(), c.InputDim(), cols)
	}
	reshape(y, r, c.OutputDim())
	c.propagate(x, y)
	return nil
}

// Backpropagate runs c backward: from the error e at its output to the error d
// at its input. x and y are the input and output of the matching forward pass.
func Backpropagate(c Component, x, y, e, d *mat.Dense) error {
	er, ec := e.Dims()
	if ec != c.OutputDim() {
		return DimensionError("%s expects %d error columns, got %d", c.Kind(), c.OutputDim(), ec)
	}
	if xr, _ := x.Dims(); xr != er {
		return DimensionError("%s got %d error rows for %d input rows", c.Kind(), er, xr)
	}
	reshape(d, er, c.InputDim())
	c.backpropagate(x, y, e, d)
	return nil
}

// reshape makes m an (r, c) matrix, reusing its storage when the shape
// already matches. Contents are unspecified afterwards.
func reshape(m *mat.Dense, r, c int) {
	if !m.IsEmpty() {
		if mr, mc := m.Dims(); mr == r && mc == c {
			return
		}
		m.Reset()
	}
	m.ReuseAs(r, c)
}

func eachRow(m *mat.Dense, fn func(i int, row []float64)) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		fn(i, m.RawRowView(i))
	}
}
