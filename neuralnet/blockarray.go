package neuralnet

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BlockArray splits its input into consecutive column blocks, runs each block
// through its own network and concatenates the outputs. The nested networks
// are not trained.
type BlockArray struct {
	nIn, nOut int
	blocks    []*Network
}

// NewBlockArray creates a block array over the given networks.
func NewBlockArray(blocks ...*Network) (*BlockArray, error) {
	b := &BlockArray{}
	for i, n := range blocks {
		if n.Len() == 0 {
			return nil, ConfigError("%s block %d is empty", KindBlockArray, i)
		}
		b.nIn += n.InputDim()
		b.nOut += n.OutputDim()
	}
	if len(blocks) == 0 {
		return nil, ConfigError("%s needs at least one block", KindBlockArray)
	}
	b.blocks = blocks
	return b, nil
}

func (b *BlockArray) Kind() Kind         { return KindBlockArray }
func (b *BlockArray) InputDim() int      { return b.nIn }
func (b *BlockArray) OutputDim() int     { return b.nOut }
func (b *BlockArray) Blocks() []*Network { return b.blocks }

func (b *BlockArray) Clone() Component {
	c := &BlockArray{nIn: b.nIn, nOut: b.nOut, blocks: make([]*Network, len(b.blocks))}
	for i, n := range b.blocks {
		c.blocks[i] = n.Clone()
	}
	return c
}

func (b *BlockArray) propagate(x, y *mat.Dense) {
	r, _ := x.Dims()
	in, out := 0, 0
	for i, n := range b.blocks {
		bi, bo := n.InputDim(), n.OutputDim()
		// widths were checked when the block array was built
		if err := n.Propagate(x.Slice(0, r, in, in+bi).(*mat.Dense), y.Slice(0, r, out, out+bo).(*mat.Dense)); err != nil {
			panic(fmt.Sprintf("%s block %d: %v", b.Kind(), i, err))
		}
		in += bi
		out += bo
	}
}

func (b *BlockArray) backpropagate(x, y, e, d *mat.Dense) {
	r, _ := e.Dims()
	in, out := 0, 0
	for i, n := range b.blocks {
		bi, bo := n.InputDim(), n.OutputDim()
		if err := n.backward(e.Slice(0, r, out, out+bo).(*mat.Dense), d.Slice(0, r, in, in+bi).(*mat.Dense), false); err != nil {
			panic(fmt.Sprintf("%s block %d: %v", b.Kind(), i, err))
		}
		in += bi
		out += bo
	}
}

func (b *BlockArray) readBody(r bodyReader) error {
	count, err := r.readInt()
	if err != nil {
		return err
	}
	if count <= 0 {
		return ConfigError("%s with %d blocks", b.Kind(), count)
	}
	blocks := make([]*Network, count)
	for i := range blocks {
		if blocks[i], err = r.readNetwork(); err != nil {
			return err
		}
	}
	parsed, err := NewBlockArray(blocks...)
	if err != nil {
		return err
	}
	if parsed.nIn != b.nIn || parsed.nOut != b.nOut {
		return ConfigError("%s blocks map %d to %d, header says %d to %d",
			b.Kind(), parsed.nIn, parsed.nOut, b.nIn, b.nOut)
	}
	b.blocks = blocks
	return nil
}

func (b *BlockArray) writeBody(w bodyWriter) error {
	if err := w.writeInt(len(b.blocks)); err != nil {
		return err
	}
	for _, n := range b.blocks {
		if err := w.writeNetwork(n); err != nil {
			return err
		}
	}
	return nil
}
