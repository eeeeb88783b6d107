package neuralnet

import "gonum.org/v1/gonum/mat"

// maxBodyValues bounds the size of one matrix or vector literal.
const maxBodyValues = 1 << 28

// bodyReader reads the typed literals that follow a component header.
// Both the text and the binary format implement it.
type bodyReader interface {
	readInt() (int, error)
	readMatrix() (*mat.Dense, error)
	readVector() ([]float64, error)
	readInts() ([]int, error)
	readNetwork() (*Network, error)
}

// bodyWriter is the writing counterpart of bodyReader.
type bodyWriter interface {
	writeInt(v int) error
	writeMatrix(m *mat.Dense) error
	writeVector(v []float64) error
	writeInts(v []int) error
	writeNetwork(n *Network) error
}

// readMatrixShape reads a matrix and checks it has the expected shape.
func readMatrixShape(r bodyReader, kind Kind, rows, cols int) (*mat.Dense, error) {
	m, err := r.readMatrix()
	if err != nil {
		return nil, err
	}
	if mr, mc := m.Dims(); mr != rows || mc != cols {
		return nil, ConfigError("%s matrix is %dx%d, want %dx%d", kind, mr, mc, rows, cols)
	}
	return m, nil
}

// readVectorLen reads a vector and checks its length.
func readVectorLen(r bodyReader, kind Kind, n int) ([]float64, error) {
	v, err := r.readVector()
	if err != nil {
		return nil, err
	}
	if len(v) != n {
		return nil, ConfigError("%s vector has %d entries, want %d", kind, len(v), n)
	}
	return v, nil
}

// transposed returns a new matrix holding mᵀ. Weight matrices are stored
// transposed on disk, one row per output.
func transposed(m *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}
