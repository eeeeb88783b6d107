package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"tnet/platform"
)

// maxRecordValues bounds rows*dim of one archive record.
const maxRecordValues = 1 << 28

// loadArchive reads the utterances of an archive. Each record is, in little
// endian order: rows uint32, dim uint32, rows*dim float32 features and rows
// uint32 class labels. Labels are one-hot encoded to classes columns.
func loadArchive(filePath string, classes int) ([]platform.Pair, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var pairs []platform.Pair
	for {
		var header [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s: record %d: %w", filePath, len(pairs), err)
		}
		rows, dim := int(header[0]), int(header[1])
		if rows == 0 || dim == 0 || rows*dim > maxRecordValues {
			return nil, fmt.Errorf("%s: record %d has %d rows of %d values", filePath, len(pairs), rows, dim)
		}
		features := make([]float32, rows*dim)
		if err := binary.Read(r, binary.LittleEndian, features); err != nil {
			return nil, fmt.Errorf("%s: record %d features: %w", filePath, len(pairs), err)
		}
		raw := make([]uint32, rows)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("%s: record %d labels: %w", filePath, len(pairs), err)
		}
		labels := make([]int, rows)
		for i, l := range raw {
			if int(l) >= classes {
				return nil, fmt.Errorf("%s: record %d frame %d has label %d of %d classes", filePath, len(pairs), i, l, classes)
			}
			labels[i] = int(l)
		}
		pairs = append(pairs, platform.Pair{
			Features: widen(rows, dim, features),
			Targets:  toDense(oneHotEncode(labels, classes)),
		})
	}
	return pairs, nil
}

func oneHotEncode(labels []int, numClasses int) tensor.Tensor {
	numLabels := len(labels)
	norm := make([]float64, numLabels*numClasses)

	for i, label := range labels {
		norm[i*numClasses+label] = 1.0
	}

	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(numLabels, numClasses), tensor.WithBacking(norm))
}

func widen(rows, cols int, data []float32) *mat.Dense {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return mat.NewDense(rows, cols, out)
}

// toDense copies a two dimensional float64 tensor into a matrix.
func toDense(t tensor.Tensor) *mat.Dense {
	shape := t.Shape()
	data, ok := t.Data().([]float64)
	if !ok || len(shape) != 2 {
		panic(fmt.Sprintf("toDense: unsupported %v tensor of shape %v", t.Dtype(), shape))
	}
	return mat.NewDense(shape[0], shape[1], append([]float64(nil), data...))
}
