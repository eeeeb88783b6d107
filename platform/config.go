package platform

import (
	"time"

	"tnet/neuralnet"
)

// Config holds the training settings.
type Config struct {
	LearnRate float64
	// LearnRateFactors scales LearnRate per updatable component, in chain order.
	LearnRateFactors []float64
	Momentum         float64
	WeightCost       float64

	// CacheSize is the total number of cached frames, split evenly between
	// the workers. Each worker's share must be a multiple of BunchSize.
	CacheSize int
	BunchSize int
	Randomize bool
	Seed      int64

	// Threads is the number of workers; 0 selects one per physical core.
	Threads int

	// CrossValidate only evaluates the objective and leaves the weights alone.
	CrossValidate bool

	// QueueLowWater is the queue length every worker must exceed before the
	// reader pauses.
	QueueLowWater int
	// PollInterval is how long a worker waiting for input sleeps.
	PollInterval time.Duration

	// CheckpointEvery calls the checkpoint hook after that many bunches; 0 disables it.
	CheckpointEvery int

	// TraceCache logs the cache state transitions.
	TraceCache bool
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		LearnRate:     0.008,
		CacheSize:     16384,
		BunchSize:     256,
		Randomize:     true,
		Seed:          1,
		QueueLowWater: 4,
		PollInterval:  10 * time.Millisecond,
	}
}

// Validate checks the settings. Threads must be resolved by then.
func (c Config) Validate() error {
	if err := c.trainParams().Validate(); err != nil {
		return err
	}
	if c.Threads <= 0 {
		return neuralnet.ConfigError("thread count %d", c.Threads)
	}
	if c.BunchSize <= 0 || c.CacheSize <= 0 {
		return neuralnet.ConfigError("cache size %d and bunch size %d must be positive", c.CacheSize, c.BunchSize)
	}
	per := c.CacheSize / c.Threads
	if per < c.BunchSize {
		return neuralnet.ConfigError("cache of %d frames per thread is smaller than a bunch of %d", per, c.BunchSize)
	}
	if c.CacheSize%c.Threads != 0 || per%c.BunchSize != 0 {
		return neuralnet.ConfigError("cache size %d does not split into %d threads of whole %d frame bunches",
			c.CacheSize, c.Threads, c.BunchSize)
	}
	if c.QueueLowWater < 0 || c.PollInterval < 0 || c.CheckpointEvery < 0 {
		return neuralnet.ConfigError("negative queue mark, poll interval or checkpoint period")
	}
	return nil
}

func (c Config) trainParams() neuralnet.TrainParams {
	return neuralnet.TrainParams{LearnRate: c.LearnRate, Momentum: c.Momentum, WeightCost: c.WeightCost}
}

// workerCacheSize is each worker's share of the cache.
func (c Config) workerCacheSize() int {
	return c.CacheSize / c.Threads
}
