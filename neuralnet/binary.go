package neuralnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/encoding/protowire"
)

// The binary format is a protobuf wire stream without a schema file:
//
//	network   = repeated component (field 1)
//	component = tag (1), outputs (2), inputs (3), repeated item (4)
//	item      = kind (1), rows (2), cols (3), packed doubles (4),
//	            packed zigzag ints (5), nested network (6)

const (
	fieldNetComponent protowire.Number = 1

	fieldCompTag     protowire.Number = 1
	fieldCompOutputs protowire.Number = 2
	fieldCompInputs  protowire.Number = 3
	fieldCompItem    protowire.Number = 4

	fieldItemKind    protowire.Number = 1
	fieldItemRows    protowire.Number = 2
	fieldItemCols    protowire.Number = 3
	fieldItemDoubles protowire.Number = 4
	fieldItemInts    protowire.Number = 5
	fieldItemNetwork protowire.Number = 6
)

type itemKind uint64

const (
	itemInt itemKind = iota + 1
	itemMatrix
	itemVector
	itemInts
	itemNetwork
)

func (k itemKind) String() string {
	switch k {
	case itemInt:
		return "int"
	case itemMatrix:
		return "matrix"
	case itemVector:
		return "vector"
	case itemInts:
		return "int vector"
	case itemNetwork:
		return "network"
	}
	return fmt.Sprintf("item(%d)", uint64(k))
}

func marshalNetwork(n *Network) ([]byte, error) {
	var b []byte
	for _, nd := range n.nodes {
		c := nd.comp
		w := &binaryWriter{}
		if err := c.writeBody(w); err != nil {
			return nil, err
		}
		var msg []byte
		msg = protowire.AppendTag(msg, fieldCompTag, protowire.BytesType)
		msg = protowire.AppendString(msg, c.Kind().String())
		msg = protowire.AppendTag(msg, fieldCompOutputs, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(c.OutputDim()))
		msg = protowire.AppendTag(msg, fieldCompInputs, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(c.InputDim()))
		for _, it := range w.items {
			msg = protowire.AppendTag(msg, fieldCompItem, protowire.BytesType)
			msg = protowire.AppendBytes(msg, it)
		}
		b = protowire.AppendTag(b, fieldNetComponent, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b, nil
}

func wireError(n int) error {
	return ConfigError("malformed binary network: %v", protowire.ParseError(n))
}

// fields walks the top level fields of a message.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]
		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]
		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalNetwork(b []byte) (*Network, error) {
	net, _ := NewNetwork()
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldNetComponent || typ != protowire.BytesType {
			return nil
		}
		return unmarshalComponent(net, v)
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

func unmarshalComponent(net *Network, b []byte) error {
	var (
		tag             string
		outputs, inputs int
		r               binaryReader
	)
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldCompTag:
			tag = string(v)
		case fieldCompOutputs:
			outputs = int(x)
		case fieldCompInputs:
			inputs = int(x)
		case fieldCompItem:
			r.items = append(r.items, v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	kind, err := ParseKind(tag)
	if err != nil {
		return err
	}
	return net.appendRecord(kind, outputs, inputs, &r)
}

type binaryWriter struct {
	items [][]byte
}

func appendItemHeader(b []byte, kind itemKind, rows, cols int) []byte {
	b = protowire.AppendTag(b, fieldItemKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kind))
	b = protowire.AppendTag(b, fieldItemRows, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rows))
	b = protowire.AppendTag(b, fieldItemCols, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(cols))
}

func appendDoubles(b []byte, v []float64) []byte {
	packed := make([]byte, 0, 8*len(v))
	for _, x := range v {
		packed = protowire.AppendFixed64(packed, math.Float64bits(x))
	}
	b = protowire.AppendTag(b, fieldItemDoubles, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendInts(b []byte, v []int) []byte {
	var packed []byte
	for _, x := range v {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(x)))
	}
	b = protowire.AppendTag(b, fieldItemInts, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func (w *binaryWriter) writeInt(v int) error {
	w.items = append(w.items, appendInts(appendItemHeader(nil, itemInt, 1, 1), []int{v}))
	return nil
}

func (w *binaryWriter) writeMatrix(m *mat.Dense) error {
	rows, cols := m.Dims()
	b := appendItemHeader(nil, itemMatrix, rows, cols)
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	w.items = append(w.items, appendDoubles(b, data))
	return nil
}

func (w *binaryWriter) writeVector(v []float64) error {
	w.items = append(w.items, appendDoubles(appendItemHeader(nil, itemVector, 1, len(v)), v))
	return nil
}

func (w *binaryWriter) writeInts(v []int) error {
	w.items = append(w.items, appendInts(appendItemHeader(nil, itemInts, 1, len(v)), v))
	return nil
}

func (w *binaryWriter) writeNetwork(n *Network) error {
	data, err := marshalNetwork(n)
	if err != nil {
		return err
	}
	b := appendItemHeader(nil, itemNetwork, 0, 0)
	b = protowire.AppendTag(b, fieldItemNetwork, protowire.BytesType)
	w.items = append(w.items, protowire.AppendBytes(b, data))
	return nil
}

type item struct {
	kind       itemKind
	rows, cols int
	doubles    []float64
	ints       []int
	network    []byte
}

type binaryReader struct {
	items [][]byte
	pos   int
}

// next decodes the next item and checks its kind.
func (r *binaryReader) next(want itemKind) (*item, error) {
	if r.pos >= len(r.items) {
		return nil, ConfigError("component body is missing a %s", want)
	}
	b := r.items[r.pos]
	r.pos++
	it := &item{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldItemKind:
			it.kind = itemKind(x)
		case fieldItemRows:
			it.rows = int(x)
		case fieldItemCols:
			it.cols = int(x)
		case fieldItemDoubles:
			if len(v)%8 != 0 {
				return ConfigError("packed doubles of %d bytes", len(v))
			}
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed64(v)
				if n < 0 {
					return wireError(n)
				}
				it.doubles = append(it.doubles, math.Float64frombits(bits))
				v = v[n:]
			}
		case fieldItemInts:
			for len(v) > 0 {
				z, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return wireError(n)
				}
				it.ints = append(it.ints, int(protowire.DecodeZigZag(z)))
				v = v[n:]
			}
		case fieldItemNetwork:
			it.network = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if it.kind != want {
		return nil, ConfigError("expected a %s, got a %s", want, it.kind)
	}
	return it, nil
}

func (r *binaryReader) readInt() (int, error) {
	it, err := r.next(itemInt)
	if err != nil {
		return 0, err
	}
	if len(it.ints) != 1 {
		return 0, ConfigError("int item holds %d values", len(it.ints))
	}
	return it.ints[0], nil
}

func (r *binaryReader) readMatrix() (*mat.Dense, error) {
	it, err := r.next(itemMatrix)
	if err != nil {
		return nil, err
	}
	if it.rows <= 0 || it.cols <= 0 || it.rows > maxBodyValues/it.cols || len(it.doubles) != it.rows*it.cols {
		return nil, ConfigError("matrix of %dx%d holds %d values", it.rows, it.cols, len(it.doubles))
	}
	return mat.NewDense(it.rows, it.cols, it.doubles), nil
}

func (r *binaryReader) readVector() ([]float64, error) {
	it, err := r.next(itemVector)
	if err != nil {
		return nil, err
	}
	if len(it.doubles) != it.cols {
		return nil, ConfigError("vector of %d holds %d values", it.cols, len(it.doubles))
	}
	return it.doubles, nil
}

func (r *binaryReader) readInts() ([]int, error) {
	it, err := r.next(itemInts)
	if err != nil {
		return nil, err
	}
	if len(it.ints) != it.cols {
		return nil, ConfigError("int vector of %d holds %d values", it.cols, len(it.ints))
	}
	return it.ints, nil
}

func (r *binaryReader) readNetwork() (*Network, error) {
	it, err := r.next(itemNetwork)
	if err != nil {
		return nil, err
	}
	return unmarshalNetwork(it.network)
}
