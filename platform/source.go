package platform

import (
	"errors"
	"io"

	"gonum.org/v1/gonum/mat"
)

// ErrSkipUtterance marks a Source error that drops one utterance and lets
// training continue, such as a missing label file.
var ErrSkipUtterance = errors.New("utterance skipped")

// Source supplies utterances as (features, targets) pairs with one row per
// frame. Next returns io.EOF after the last utterance. An error wrapping
// ErrSkipUtterance skips the utterance; any other error stops training.
type Source interface {
	Next() (features, targets *mat.Dense, err error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (features, targets *mat.Dense, err error)

func (f SourceFunc) Next() (*mat.Dense, *mat.Dense, error) { return f() }

// Pair is one utterance.
type Pair struct {
	Features, Targets *mat.Dense
}

type memorySource struct {
	pairs []Pair
	pos   int
}

// NewMemorySource returns a Source reading the pairs in order.
func NewMemorySource(pairs []Pair) Source {
	return &memorySource{pairs: pairs}
}

func (s *memorySource) Next() (*mat.Dense, *mat.Dense, error) {
	if s.pos >= len(s.pairs) {
		return nil, nil, io.EOF
	}
	p := s.pairs[s.pos]
	s.pos++
	return p.Features, p.Targets, nil
}
