package parallel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Partition returns the half-open row range [lo, hi) owned by thread thr out of thrN.
// The ranges of all threads cover [0, total) exactly once and differ in size by at most
// one row, the first total%thrN threads taking the extra rows. Every concurrent
// accumulate/update relies on all threads computing the same ranges, so bad arguments
// panic instead of returning an error.
func Partition(total, thr, thrN int) (lo, hi int) {
	if thrN <= 0 || thr < 0 || thr >= thrN || total < 0 {
		panic(fmt.Sprintf("parallel: bad partition total=%d thr=%d thrN=%d", total, thr, thrN))
	}
	block := total / thrN
	rest := total % thrN
	lo = thr*block + min(thr, rest)
	hi = lo + block
	if thr < rest {
		hi++
	}
	return lo, hi
}

// RowRange returns the view of the rows of m owned by thread thr, or nil when the
// thread owns no rows. Writes through the view only touch the owned rows.
func RowRange(m *mat.Dense, thr, thrN int) *mat.Dense {
	r, c := m.Dims()
	lo, hi := Partition(r, thr, thrN)
	if lo == hi {
		return nil
	}
	return m.Slice(lo, hi, 0, c).(*mat.Dense)
}

// SliceRange returns the part of v owned by thread thr.
func SliceRange(v []float64, thr, thrN int) []float64 {
	lo, hi := Partition(len(v), thr, thrN)
	return v[lo:hi:hi]
}
