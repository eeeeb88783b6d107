// Package cache buffers training frames from many utterances, shuffles them
// and hands them out in fixed size bunches.
//
// A Cache cycles through four states. AddData fills it (Empty, Intake, Full),
// Randomize permutes what was collected and GetBunch drains it (Exhaust)
// until fewer than two bunches remain, at which point the rest is discarded
// and the cache is Empty again. Rows of a segment that did not fit are kept
// as leftover and enter the cache first on the next fill.
package cache

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"tnet/neuralnet"
)

// State is the phase of the fill and drain cycle.
type State int

const (
	Empty State = iota
	Intake
	Full
	Exhaust
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Intake:
		return "intake"
	case Full:
		return "full"
	case Exhaust:
		return "exhaust"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrEmpty is returned by GetBunch when there is nothing to hand out.
	ErrEmpty = errors.New("cache is empty")

	// ErrIncompleteBunch is returned by GetBunch when the cache holds less than
	// one bunch. The rows are discarded and the cache is Empty afterwards.
	ErrIncompleteBunch = errors.New("cache holds less than one bunch")

	// ErrState is returned for operations not allowed in the current state.
	ErrState = errors.New("operation not allowed in this cache state")
)

type Option func(*Cache)

// WithSeed seeds the shuffling.
func WithSeed(seed int64) Option {
	return func(c *Cache) { c.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithTrace logs every state transition.
func WithTrace(on bool) Option {
	return func(c *Cache) { c.trace = on }
}

// Cache is a fixed capacity buffer of (features, desired) row pairs.
// It is not safe for concurrent use.
type Cache struct {
	size  int
	bunch int

	state      State
	intakePos  int
	exhaustPos int
	discarded  int

	features, desired         *mat.Dense
	featuresRand, desiredRand *mat.Dense
	randomized                bool

	leftFeatures, leftDesired *mat.Dense

	rng    *rand.Rand
	logger *log.Logger
	trace  bool
}

// New creates a cache of size rows handed out in bunches of bunch rows.
func New(size, bunch int, opts ...Option) (*Cache, error) {
	if size <= 0 || bunch <= 0 || size%bunch != 0 {
		return nil, neuralnet.ConfigError("cache size %d is not a positive multiple of bunch size %d", size, bunch)
	}
	c := &Cache{size: size, bunch: bunch}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(1))
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c, nil
}

func (c *Cache) setState(s State) {
	if c.trace && s != c.state {
		c.logger.Printf("cache: %s -> %s (intake %d, exhaust %d, leftover %d)",
			c.state, s, c.intakePos, c.exhaustPos, c.Leftover())
	}
	c.state = s
}

// allocate creates the buffers on the first segment and checks the widths of
// later ones.
func (c *Cache) allocate(features, desired *mat.Dense) error {
	_, fc := features.Dims()
	_, dc := desired.Dims()
	if c.features == nil {
		c.features = mat.NewDense(c.size, fc, nil)
		c.desired = mat.NewDense(c.size, dc, nil)
		return nil
	}
	if _, w := c.features.Dims(); w != fc {
		return neuralnet.DimensionError("cache holds %d feature columns, segment has %d", w, fc)
	}
	if _, w := c.desired.Dims(); w != dc {
		return neuralnet.DimensionError("cache holds %d target columns, segment has %d", w, dc)
	}
	return nil
}

// AddData copies a segment into the cache. Rows beyond the capacity are kept
// as leftover for the next fill.
func (c *Cache) AddData(features, desired *mat.Dense) error {
	rows, _ := features.Dims()
	if dr, _ := desired.Dims(); dr != rows {
		return neuralnet.DimensionError("segment has %d feature rows and %d target rows", rows, dr)
	}
	if c.state == Full || c.state == Exhaust {
		return fmt.Errorf("%w: AddData in state %s", ErrState, c.state)
	}
	if err := c.allocate(features, desired); err != nil {
		return err
	}
	if rows > c.size/2 {
		c.logger.Printf("warning: segment of %d rows exceeds half the cache size %d", rows, c.size)
	}
	if c.state == Empty {
		c.begin()
		if c.intakePos == c.size {
			// the leftover alone filled the cache
			c.leftFeatures = mat.DenseCopyOf(features)
			c.leftDesired = mat.DenseCopyOf(desired)
			c.setState(Full)
			return nil
		}
	}
	c.intake(features, desired)
	return nil
}

// Flush starts a new fill from the leftover alone, for use when no more
// segments will arrive. It reports whether there was a leftover.
func (c *Cache) Flush() bool {
	if c.state != Empty || c.leftFeatures == nil {
		return false
	}
	c.begin()
	if c.intakePos == c.size {
		c.setState(Full)
	}
	return true
}

// begin moves an Empty cache to Intake and prefills the leftover.
func (c *Cache) begin() {
	c.intakePos, c.exhaustPos = 0, 0
	c.randomized = false
	c.setState(Intake)
	if c.leftFeatures == nil {
		return
	}
	lf, ld := c.leftFeatures, c.leftDesired
	c.leftFeatures, c.leftDesired = nil, nil
	n, _ := lf.Dims()
	if n > c.size {
		c.logger.Printf("warning: leftover of %d rows truncated to the cache size %d", n, c.size)
		c.discarded += n - c.size
		n = c.size
	}
	c.copyIn(lf, ld, 0, n)
	c.intakePos = n
}

// intake copies as much of the segment as fits and keeps the rest as leftover.
func (c *Cache) intake(features, desired *mat.Dense) {
	// an earlier shuffle does not cover the new rows
	c.randomized = false
	rows, _ := features.Dims()
	fit := min(rows, c.size-c.intakePos)
	c.copyIn(features, desired, 0, fit)
	c.intakePos += fit
	if fit < rows {
		fc, dc := c.widths()
		c.leftFeatures = mat.DenseCopyOf(features.Slice(fit, rows, 0, fc))
		c.leftDesired = mat.DenseCopyOf(desired.Slice(fit, rows, 0, dc))
	}
	if c.intakePos == c.size {
		c.setState(Full)
	}
}

func (c *Cache) widths() (fc, dc int) {
	_, fc = c.features.Dims()
	_, dc = c.desired.Dims()
	return fc, dc
}

// copyIn copies rows [from, to) of the segment to the intake position.
func (c *Cache) copyIn(features, desired *mat.Dense, from, to int) {
	if to <= from {
		return
	}
	fc, dc := c.widths()
	at, n := c.intakePos, to-from
	c.features.Slice(at, at+n, 0, fc).(*mat.Dense).Copy(features.Slice(from, to, 0, fc))
	c.desired.Slice(at, at+n, 0, dc).(*mat.Dense).Copy(desired.Slice(from, to, 0, dc))
}

// Randomize shuffles the collected rows. GetBunch reads the shuffled copy
// until more rows are added.
func (c *Cache) Randomize() error {
	if c.state != Intake && c.state != Full {
		return fmt.Errorf("%w: Randomize in state %s", ErrState, c.state)
	}
	fc, dc := c.widths()
	if c.featuresRand == nil {
		c.featuresRand = mat.NewDense(c.size, fc, nil)
		c.desiredRand = mat.NewDense(c.size, dc, nil)
	}
	for i, src := range c.rng.Perm(c.intakePos) {
		copy(c.featuresRand.RawRowView(i), c.features.RawRowView(src))
		copy(c.desiredRand.RawRowView(i), c.desired.RawRowView(src))
	}
	c.randomized = true
	return nil
}

// GetBunch copies the next bunch into features and desired, which are
// reshaped as needed. The first call on an Intake or Full cache starts
// draining it. Once at most one bunch is left the remaining rows are
// discarded and the cache becomes Empty.
func (c *Cache) GetBunch(features, desired *mat.Dense) error {
	switch c.state {
	case Empty:
		return ErrEmpty
	case Intake, Full:
		c.exhaustPos = 0
		c.setState(Exhaust)
		if c.intakePos < c.bunch {
			c.discarded += c.intakePos
			c.intakePos = 0
			c.setState(Empty)
			return ErrIncompleteBunch
		}
	}
	fsrc, dsrc := c.features, c.desired
	if c.randomized {
		fsrc, dsrc = c.featuresRand, c.desiredRand
	}
	fc, dc := c.widths()
	reshape(features, c.bunch, fc)
	reshape(desired, c.bunch, dc)
	lo, hi := c.exhaustPos, c.exhaustPos+c.bunch
	features.Copy(fsrc.Slice(lo, hi, 0, fc))
	desired.Copy(dsrc.Slice(lo, hi, 0, dc))
	c.exhaustPos = hi
	if c.exhaustPos >= c.intakePos-c.bunch {
		c.discarded += c.intakePos - c.exhaustPos
		c.setState(Empty)
	}
	return nil
}

func reshape(m *mat.Dense, r, c int) {
	if !m.IsEmpty() {
		if mr, mc := m.Dims(); mr == r && mc == c {
			return
		}
		m.Reset()
	}
	m.ReuseAs(r, c)
}

func (c *Cache) State() State { return c.state }

func (c *Cache) Empty() bool { return c.state == Empty }

func (c *Cache) Full() bool { return c.state == Full }

func (c *Cache) Size() int        { return c.size }
func (c *Cache) BunchSize() int   { return c.bunch }
func (c *Cache) IntakePos() int   { return c.intakePos }
func (c *Cache) ExhaustPos() int  { return c.exhaustPos }
func (c *Cache) Randomized() bool { return c.randomized }

// Discarded returns the number of rows dropped so far.
func (c *Cache) Discarded() int { return c.discarded }

// Leftover returns the number of rows waiting for the next fill.
func (c *Cache) Leftover() int {
	if c.leftFeatures == nil {
		return 0
	}
	n, _ := c.leftFeatures.Dims()
	return n
}
