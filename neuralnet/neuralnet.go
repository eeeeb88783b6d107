// Package neuralnet implements layered networks for frame classification:
// the component variants, the network chain with its forward and backward
// passes, gradient accumulation for parallel training, and serialization.
package neuralnet

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DefaultBlockSize is the Feedforward block size used when none was set.
const DefaultBlockSize = 1000

// node places a component in the network. in and out index the activation
// slots the component reads and writes; the matching error slots carry the
// errors with respect to those activations.
type node struct {
	comp    Component
	in, out int
}

// Network is an ordered chain of components. Slot 0 holds the borrowed
// network input, slot i+1 the output of component i.
type Network struct {
	nodes     []node
	acts      []*mat.Dense
	errs      []*mat.Dense
	blockSize int
}

// NewNetwork chains the components, checking that neighbouring widths agree.
func NewNetwork(components ...Component) (*Network, error) {
	n := &Network{acts: []*mat.Dense{nil}, errs: []*mat.Dense{nil}}
	for _, c := range components {
		if err := n.Append(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Network) Append(c Component) error {
	if len(n.nodes) > 0 {
		if prev := n.nodes[len(n.nodes)-1].comp; prev.OutputDim() != c.InputDim() {
			return DimensionError("component %d %s outputs %d, next %s takes %d",
				len(n.nodes)-1, prev.Kind(), prev.OutputDim(), c.Kind(), c.InputDim())
		}
	}
	n.push(c)
	return nil
}

func (n *Network) push(c Component) {
	slot := len(n.nodes)
	n.nodes = append(n.nodes, node{comp: c, in: slot, out: slot + 1})
	n.acts = append(n.acts, &mat.Dense{})
	n.errs = append(n.errs, &mat.Dense{})
}

func (n *Network) Len() int { return len(n.nodes) }

func (n *Network) Component(i int) Component { return n.nodes[i].comp }

// InputDim returns the input width, 0 for an empty network.
func (n *Network) InputDim() int {
	if len(n.nodes) == 0 {
		return 0
	}
	return n.nodes[0].comp.InputDim()
}

// OutputDim returns the output width, 0 for an empty network.
func (n *Network) OutputDim() int {
	if len(n.nodes) == 0 {
		return 0
	}
	return n.nodes[len(n.nodes)-1].comp.OutputDim()
}

// SetBlockSize sets the number of rows Feedforward propagates at once.
func (n *Network) SetBlockSize(rows int) {
	n.blockSize = rows
}

func (n *Network) BlockSize() int {
	if n.blockSize <= 0 {
		return DefaultBlockSize
	}
	return n.blockSize
}

// Context returns the number of neighbouring frames the network output
// depends on, before and after each row.
func (n *Network) Context() (left, right int) {
	for _, nd := range n.nodes {
		if e, ok := nd.comp.(*Expand); ok {
			l, r := e.Context()
			left += l
			right += r
		}
	}
	return left, right
}

// Propagate runs the network on in and copies the result into out, which is
// reshaped as needed. An empty network copies in to out.
func (n *Network) Propagate(in, out *mat.Dense) error {
	r, c := in.Dims()
	if len(n.nodes) == 0 {
		reshape(out, r, c)
		out.Copy(in)
		return nil
	}
	n.acts[0] = in
	for i, nd := range n.nodes {
		if err := Propagate(nd.comp, n.acts[nd.in], n.acts[nd.out]); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	last := n.acts[len(n.nodes)]
	reshape(out, r, n.OutputDim())
	out.Copy(last)
	return nil
}

// Backpropagate propagates globalErr, the error at the network output of the
// last Propagate, back through the chain and computes the gradient of every
// updatable component. The error is not propagated past the first component.
func (n *Network) Backpropagate(globalErr *mat.Dense) error {
	return n.backward(globalErr, nil, true)
}

// backward walks the chain in reverse. When inErr is not nil the error with
// respect to the network input is stored in it.
func (n *Network) backward(e, inErr *mat.Dense, gradients bool) error {
	if len(n.nodes) == 0 {
		if inErr != nil {
			r, c := e.Dims()
			reshape(inErr, r, c)
			inErr.Copy(e)
		}
		return nil
	}
	if n.acts[0] == nil {
		return ConfigError("backpropagate called before propagate")
	}
	last := len(n.nodes)
	or, oc := n.acts[last].Dims()
	if er, ec := e.Dims(); er != or || ec != oc {
		return DimensionError("network output is %dx%d, error is %dx%d", or, oc, er, ec)
	}
	n.errs[last] = e
	for i := last - 1; i >= 0; i-- {
		nd := n.nodes[i]
		x, y, ey := n.acts[nd.in], n.acts[nd.out], n.errs[nd.out]
		if gradients {
			if u, ok := nd.comp.(Updatable); ok {
				u.Gradient(x, ey)
			}
		}
		dst := n.errs[nd.in]
		if i == 0 {
			if inErr == nil {
				break
			}
			dst = inErr
		}
		if err := Backpropagate(nd.comp, x, y, ey, dst); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}

// Feedforward propagates long inputs block by block to bound the memory held
// by the activations. Each block is extended by left rows before and right
// rows after it, and the extension is trimmed from its output. When left and
// right cover the network context the result equals Propagate. The activation
// slots hold the last block afterwards, so Backpropagate must not follow.
func (n *Network) Feedforward(in, out *mat.Dense, left, right int) error {
	rows, cols := in.Dims()
	bs := n.BlockSize()
	if len(n.nodes) == 0 || rows < 2*bs {
		return n.Propagate(in, out)
	}
	if cols != n.InputDim() {
		return DimensionError("network takes %d columns, got %d", n.InputDim(), cols)
	}
	oc := n.OutputDim()
	reshape(out, rows, oc)
	blocks := rows / bs
	var chunk mat.Dense
	for k := 0; k < blocks; k++ {
		start, end := k*rows/blocks, (k+1)*rows/blocks
		lo, hi := max(0, start-left), min(rows, end+right)
		if err := n.Propagate(in.Slice(lo, hi, 0, cols).(*mat.Dense), &chunk); err != nil {
			return err
		}
		out.Slice(start, end, 0, oc).(*mat.Dense).Copy(chunk.Slice(start-lo, end-lo, 0, oc))
	}
	return nil
}

// Clone returns a network with cloned components and fresh buffers. Updatable
// components of the clone share their parameters with n.
func (n *Network) Clone() *Network {
	c := &Network{acts: []*mat.Dense{nil}, errs: []*mat.Dense{nil}, blockSize: n.blockSize}
	for _, nd := range n.nodes {
		c.push(nd.comp.Clone())
	}
	return c
}

func (n *Network) Updatables() []Updatable {
	var us []Updatable
	for _, nd := range n.nodes {
		if u, ok := nd.comp.(Updatable); ok {
			us = append(us, u)
		}
	}
	return us
}

// AccuGradient adds the rows owned by thr of the gradients of src, a replica
// of n, into n's accumulators.
func (n *Network) AccuGradient(src *Network, thr, thrN int) error {
	dst, from := n.Updatables(), src.Updatables()
	if len(dst) != len(from) {
		return ConfigError("replica has %d updatable components, want %d", len(from), len(dst))
	}
	for i, u := range dst {
		if err := u.AccuGradient(from[i], thr, thrN); err != nil {
			return fmt.Errorf("updatable %d: %w", i, err)
		}
	}
	return nil
}

// Update applies the accumulated gradients to the rows owned by thr.
func (n *Network) Update(thr, thrN int) {
	for _, u := range n.Updatables() {
		u.Update(thr, thrN)
	}
}

func (n *Network) ResetFrames() {
	for _, u := range n.Updatables() {
		u.ResetFrames()
	}
}

// SetTrainParams sets p on every updatable component. When factors is not
// empty it holds one learning rate scale per updatable component.
func (n *Network) SetTrainParams(p TrainParams, factors []float64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	us := n.Updatables()
	if len(factors) != 0 && len(factors) != len(us) {
		return ConfigError("%d learning rate factors for %d updatable components", len(factors), len(us))
	}
	for i, u := range us {
		q := p
		if len(factors) != 0 {
			if factors[i] < 0 {
				return ConfigError("negative learning rate factor %v", factors[i])
			}
			q.LearnRate *= factors[i]
		}
		u.SetParams(q)
	}
	return nil
}

func (n *Network) String() string {
	var sb strings.Builder
	for i, nd := range n.nodes {
		c := nd.comp
		sb.WriteString(fmt.Sprintf("%d: %s %d -> %d", i, c.Kind(), c.InputDim(), c.OutputDim()))
		if u, ok := c.(Updatable); ok {
			sb.WriteString(fmt.Sprintf(" lr=%g", u.Params().LearnRate))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
