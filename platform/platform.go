// Package platform trains a network on several threads.
//
// One reader goroutine pulls utterances from a Source and deals them out to
// the workers' queues. Every worker owns a cache, a replica of the master
// network and an objective. Workers run forward and backward passes on their
// own bunches and meet at a barrier three times per bunch: after the local
// gradients are computed, after the gradients of all replicas have been summed
// into the master, and after the master weights have been updated. Both the
// summing and the update are split by rows between the workers, so the master
// needs no lock.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"tnet/cache"
	"tnet/device"
	"tnet/neuralnet"
	"tnet/parallel"
)

// Stats summarises a Train call.
type Stats struct {
	// Objective holds the statistics merged from every worker.
	Objective  neuralnet.Objective
	Utterances int
	Frames     int
	Bunches    int
	Discarded  int
	Skipped    int
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d utterances, %d frames, %d bunches, %d frames discarded, %d utterances skipped\n%s",
		s.Utterances, s.Frames, s.Bunches, s.Discarded, s.Skipped, s.Objective.Report())
}

// Trainer trains a master network with the configured number of workers.
type Trainer struct {
	master     *neuralnet.Network
	objective  neuralnet.Objective
	cfg        Config
	logger     *log.Logger
	dev        *device.Context
	checkpoint func(*neuralnet.Network, int) error
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger for progress lines and data warnings.
func WithLogger(l *log.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithContext sets the execution context that provides the default thread
// count and collects the profiling counters.
func WithContext(dev *device.Context) Option {
	return func(t *Trainer) { t.dev = dev }
}

// WithCheckpoint sets a hook called with the master network and the number of
// bunches trained so far, every Config.CheckpointEvery bunches. An error stops
// training.
func WithCheckpoint(fn func(*neuralnet.Network, int) error) Option {
	return func(t *Trainer) { t.checkpoint = fn }
}

// New creates a trainer for master. The statistics of every Train call are
// merged into objective.
func New(master *neuralnet.Network, objective neuralnet.Objective, cfg Config, opts ...Option) (*Trainer, error) {
	t := &Trainer{master: master, objective: objective, cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	if t.dev == nil {
		t.dev = device.New()
	}
	if t.cfg.Threads == 0 {
		t.cfg.Threads = t.dev.Threads()
	}
	if err := t.cfg.Validate(); err != nil {
		return nil, err
	}
	if master.Len() == 0 {
		return nil, neuralnet.ConfigError("cannot train an empty network")
	}
	if !t.cfg.CrossValidate {
		if err := master.SetTrainParams(t.cfg.trainParams(), t.cfg.LearnRateFactors); err != nil {
			return nil, err
		}
	}
	master.SetBlockSize(t.dev.BlockSize(8 * max(master.InputDim(), master.OutputDim())))
	return t, nil
}

// Config returns the settings in use, with the thread count resolved.
func (t *Trainer) Config() Config { return t.cfg }

// run is the state of one Train call.
type run struct {
	*Trainer
	workers []*worker

	barrier  *parallel.Barrier
	flow     *parallel.Semaphore // wakes the reader
	finished *parallel.Semaphore // counts drained workers

	endOfStream atomic.Bool
	failed      atomic.Bool
	errOnce     sync.Once
	err         error

	utterances atomic.Int64
	frames     atomic.Int64
	skipped    atomic.Int64
	rounds     int // owned by worker 0
}

// errAborted stops a worker after another goroutine failed.
var errAborted = errors.New("training aborted")

// Train runs one pass over src. Cancelling ctx ends the input early; the
// frames already read are still trained on.
func (t *Trainer) Train(ctx context.Context, src Source) (*Stats, error) {
	n := t.cfg.Threads
	r := &run{
		Trainer:  t,
		barrier:  parallel.NewBarrier(n),
		flow:     parallel.NewSemaphore(0),
		finished: parallel.NewSemaphore(0),
	}
	for i := 0; i < n; i++ {
		w, err := r.newWorker(i)
		if err != nil {
			return nil, err
		}
		r.workers = append(r.workers, w)
	}

	stop := context.AfterFunc(ctx, func() { r.flow.Post() })
	defer stop()

	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		r.read(ctx, src)
	}()
	parallel.Team(n, r.fail, func(thr int) error {
		return r.work(r.workers[thr])
	})
	reader.Wait()

	if r.err != nil {
		return nil, r.err
	}
	stats := &Stats{
		Objective:  t.objective,
		Utterances: int(r.utterances.Load()),
		Frames:     int(r.frames.Load()),
		Skipped:    int(r.skipped.Load()),
	}
	for _, w := range r.workers {
		stats.Bunches += w.bunches
		stats.Discarded += w.cache.Discarded()
	}
	t.logger.Printf("trained on %d utterances, %d bunches", stats.Utterances, stats.Bunches)
	return stats, nil
}

// fail records the first fatal error and releases every blocked goroutine.
func (r *run) fail(err error) {
	r.errOnce.Do(func() {
		r.err = err
		r.failed.Store(true)
		r.barrier.Break(err)
		r.flow.Post()
	})
}

// done is called once by every worker that ran out of data. The last one
// merges the objectives of all workers.
func (r *run) done(w *worker) {
	if r.finished.Post() != len(r.workers) {
		return
	}
	for _, o := range r.workers {
		if err := r.objective.Merge(o.objective); err != nil {
			r.fail(err)
			return
		}
	}
}

func (r *run) activeWorkers() []*worker {
	var active []*worker
	for _, w := range r.workers {
		if w.active.Load() {
			active = append(active, w)
		}
	}
	return active
}

func (r *run) newCache(id int) (*cache.Cache, error) {
	return cache.New(r.cfg.workerCacheSize(), r.cfg.BunchSize,
		cache.WithSeed(r.cfg.Seed+int64(id)),
		cache.WithLogger(r.logger),
		cache.WithTrace(r.cfg.TraceCache))
}
