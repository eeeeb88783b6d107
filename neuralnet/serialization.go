package neuralnet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// binaryMagic starts every network stored in the binary format.
const binaryMagic = "\x00B"

// ReadNetwork reads a network in the text or the binary format.
func ReadNetwork(r io.Reader) (*Network, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(binaryMagic)); err == nil && string(head) == binaryMagic {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, err
		}
		return unmarshalNetwork(data[len(binaryMagic):])
	}
	tr := newTextReader(br)
	return tr.readRecords(false)
}

// Write stores the network in the text format: one record per component,
// a "<tag> outputs inputs" line followed by the component's matrices and vectors.
func (n *Network) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	tw := &textWriter{w: bw}
	if err := tw.writeRecords(n); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteBinary stores the network in the binary format.
func (n *Network) WriteBinary(w io.Writer) error {
	data, err := marshalNetwork(n)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, binaryMagic); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// LoadFile reads a network from a file in either format.
func LoadFile(name string) (*Network, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	n, err := ReadNetwork(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// SaveFile writes the network to a file, in the binary format when binary is set.
func (n *Network) SaveFile(name string, binary bool) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if binary {
		err = n.WriteBinary(file)
	} else {
		err = n.Write(file)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// appendRecord builds a component from its header and body and appends it,
// checking the declared widths against the running network width.
func (n *Network) appendRecord(kind Kind, outputs, inputs int, body bodyReader) error {
	if n.Len() > 0 && inputs != n.OutputDim() {
		return ConfigError("component %d %s declares %d inputs, previous component outputs %d",
			n.Len(), kind, inputs, n.OutputDim())
	}
	c, err := newComponent(kind, outputs, inputs)
	if err != nil {
		return err
	}
	if err := c.readBody(body); err != nil {
		return fmt.Errorf("component %d %s: %w", n.Len(), kind, err)
	}
	if c.InputDim() != inputs || c.OutputDim() != outputs {
		return ConfigError("component %d %s body maps %d to %d, header says %d to %d",
			n.Len(), kind, c.InputDim(), c.OutputDim(), inputs, outputs)
	}
	return n.Append(c)
}

type textReader struct {
	sc *bufio.Scanner
}

func newTextReader(r io.Reader) *textReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)
	return &textReader{sc: sc}
}

// next returns the next token, io.EOF at the end of the input.
func (r *textReader) next() (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// token returns the next token and treats the end of input as an error.
func (r *textReader) token() (string, error) {
	tok, err := r.next()
	if errors.Is(err, io.EOF) {
		return "", ConfigError("unexpected end of network description")
	}
	return tok, err
}

// readRecords reads components until the end of input, or until the end of
// block sentinel when nested.
func (r *textReader) readRecords(nested bool) (*Network, error) {
	n, _ := NewNetwork()
	for {
		tok, err := r.next()
		if errors.Is(err, io.EOF) {
			if nested {
				return nil, ConfigError("missing %s", endBlockTag)
			}
			return n, nil
		}
		if err != nil {
			return nil, err
		}
		if tok == endBlockTag {
			if !nested {
				return nil, ConfigError("unexpected %s", endBlockTag)
			}
			return n, nil
		}
		kind, err := ParseKind(tok)
		if err != nil {
			return nil, err
		}
		outputs, err := r.readInt()
		if err != nil {
			return nil, err
		}
		inputs, err := r.readInt()
		if err != nil {
			return nil, err
		}
		if err := n.appendRecord(kind, outputs, inputs, r); err != nil {
			return nil, err
		}
	}
}

func (r *textReader) readInt() (int, error) {
	tok, err := r.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, ConfigError("expected an integer, got %q", tok)
	}
	return v, nil
}

func (r *textReader) readFloat() (float64, error) {
	tok, err := r.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, ConfigError("expected a number, got %q", tok)
	}
	return v, nil
}

func (r *textReader) expect(marker string) error {
	tok, err := r.token()
	if err != nil {
		return err
	}
	if tok != marker {
		return ConfigError("expected %q, got %q", marker, tok)
	}
	return nil
}

func (r *textReader) readMatrix() (*mat.Dense, error) {
	if err := r.expect("m"); err != nil {
		return nil, err
	}
	rows, err := r.readInt()
	if err != nil {
		return nil, err
	}
	cols, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 || rows > maxBodyValues/cols {
		return nil, ConfigError("matrix of %dx%d", rows, cols)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		if data[i], err = r.readFloat(); err != nil {
			return nil, err
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

func (r *textReader) vectorLen() (int, error) {
	if err := r.expect("v"); err != nil {
		return 0, err
	}
	n, err := r.readInt()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxBodyValues {
		return 0, ConfigError("vector of length %d", n)
	}
	return n, nil
}

func (r *textReader) readVector() ([]float64, error) {
	n, err := r.vectorLen()
	if err != nil {
		return nil, err
	}
	v := make([]float64, n)
	for i := range v {
		if v[i], err = r.readFloat(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (r *textReader) readInts() ([]int, error) {
	n, err := r.vectorLen()
	if err != nil {
		return nil, err
	}
	v := make([]int, n)
	for i := range v {
		if v[i], err = r.readInt(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (r *textReader) readNetwork() (*Network, error) {
	return r.readRecords(true)
}

type textWriter struct {
	w *bufio.Writer
}

func (w *textWriter) writeRecords(n *Network) error {
	for _, nd := range n.nodes {
		c := nd.comp
		if _, err := fmt.Fprintf(w.w, "%s %d %d\n", c.Kind(), c.OutputDim(), c.InputDim()); err != nil {
			return err
		}
		if err := c.writeBody(w); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (w *textWriter) line(fields []string) error {
	_, err := w.w.WriteString(strings.Join(fields, " ") + "\n")
	return err
}

func (w *textWriter) writeInt(v int) error {
	return w.line([]string{strconv.Itoa(v)})
}

func (w *textWriter) writeMatrix(m *mat.Dense) error {
	rows, cols := m.Dims()
	if err := w.line([]string{"m", strconv.Itoa(rows), strconv.Itoa(cols)}); err != nil {
		return err
	}
	fields := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			fields[j] = formatFloat(v)
		}
		if err := w.line(fields); err != nil {
			return err
		}
	}
	return nil
}

func (w *textWriter) writeVector(v []float64) error {
	if err := w.line([]string{"v", strconv.Itoa(len(v))}); err != nil {
		return err
	}
	fields := make([]string, len(v))
	for i, x := range v {
		fields[i] = formatFloat(x)
	}
	return w.line(fields)
}

func (w *textWriter) writeInts(v []int) error {
	if err := w.line([]string{"v", strconv.Itoa(len(v))}); err != nil {
		return err
	}
	fields := make([]string, len(v))
	for i, x := range v {
		fields[i] = strconv.Itoa(x)
	}
	return w.line(fields)
}

func (w *textWriter) writeNetwork(n *Network) error {
	if err := w.writeRecords(n); err != nil {
		return err
	}
	return w.line([]string{endBlockTag})
}
