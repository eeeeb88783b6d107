package platform

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"tnet/cache"
	"tnet/neuralnet"
)

type utterance struct {
	features, targets *mat.Dense
}

// worker is the private state of one training thread. The queue is shared
// with the reader; everything else belongs to the worker.
type worker struct {
	id    int
	run   *run
	mu    sync.Mutex
	queue []utterance

	cache     *cache.Cache
	net       *neuralnet.Network
	objective neuralnet.Objective
	active    atomic.Bool
	bunches   int

	features, targets mat.Dense
	out, err          mat.Dense
}

func (r *run) newWorker(id int) (*worker, error) {
	c, err := r.newCache(id)
	if err != nil {
		return nil, err
	}
	w := &worker{id: id, run: r, cache: c, net: r.master.Clone(), objective: r.objective.Clone()}
	w.active.Store(true)
	return w, nil
}

func (w *worker) push(features, targets *mat.Dense) {
	w.mu.Lock()
	w.queue = append(w.queue, utterance{features, targets})
	w.mu.Unlock()
}

// pop takes the oldest utterance and wakes the reader when the queue drops
// to the low water mark.
func (w *worker) pop() (utterance, bool) {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return utterance{}, false
	}
	u := w.queue[0]
	w.queue[0] = utterance{}
	w.queue = w.queue[1:]
	wake := len(w.queue) == w.run.cfg.QueueLowWater
	w.mu.Unlock()
	if wake {
		w.run.flow.Post()
	}
	return u, true
}

func (w *worker) queueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// fill moves queued utterances into the cache until it is full or the input
// has ended. It reports whether the cache has anything to hand out.
func (w *worker) fill() (bool, error) {
	r := w.run
	defer r.dev.Since("fill", time.Now())
	for !w.cache.Full() {
		if r.failed.Load() {
			return false, errAborted
		}
		u, ok := w.pop()
		if !ok && r.endOfStream.Load() {
			// the reader may have pushed between the pop and the flag check
			if u, ok = w.pop(); !ok {
				w.cache.Flush()
				break
			}
		}
		if !ok {
			time.Sleep(r.cfg.PollInterval)
			continue
		}
		if err := w.cache.AddData(u.features, u.targets); err != nil {
			return false, fmt.Errorf("worker %d: %w", w.id, err)
		}
	}
	if w.cache.Empty() {
		return false, nil
	}
	if r.cfg.Randomize {
		if err := w.cache.Randomize(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// nextBunch loads the next bunch into the worker's buffers, refilling the
// cache as needed. It returns false once the input is exhausted.
func (w *worker) nextBunch() (bool, error) {
	for {
		if w.cache.Empty() {
			ok, err := w.fill()
			if !ok || err != nil {
				return false, err
			}
		}
		err := w.cache.GetBunch(&w.features, &w.targets)
		if errors.Is(err, cache.ErrIncompleteBunch) {
			continue
		}
		return err == nil, err
	}
}

// evaluate runs the forward pass and the objective on the current bunch.
func (w *worker) evaluate() error {
	dev := w.run.dev
	start := time.Now()
	if err := w.net.Propagate(&w.features, &w.out); err != nil {
		return err
	}
	dev.Since("propagate", start)
	if err := w.objective.Evaluate(&w.out, &w.targets, &w.err); err != nil {
		return err
	}
	w.bunches++
	return nil
}

// work is the loop of one training thread.
func (r *run) work(w *worker) error {
	var err error
	if r.cfg.CrossValidate {
		err = r.crossValidate(w)
	} else {
		err = r.train(w)
	}
	if errors.Is(err, errAborted) {
		return nil
	}
	return err
}

func (r *run) crossValidate(w *worker) error {
	for {
		ok, err := w.nextBunch()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := w.evaluate(); err != nil {
			return err
		}
	}
	w.active.Store(false)
	r.done(w)
	return nil
}

func (r *run) train(w *worker) error {
	thr, thrN := w.id, len(r.workers)
	for {
		if w.active.Load() {
			ok, err := w.nextBunch()
			if err != nil {
				return err
			}
			if ok {
				if err := w.evaluate(); err != nil {
					return err
				}
				start := time.Now()
				if err := w.net.Backpropagate(&w.err); err != nil {
					return err
				}
				r.dev.Since("backpropagate", start)
			} else {
				w.active.Store(false)
				r.done(w)
			}
		}

		if err := r.barrier.Wait(); err != nil {
			return errAborted
		}
		active := r.activeWorkers()
		if len(active) == 0 {
			return nil
		}
		start := time.Now()
		for _, a := range active {
			if err := r.master.AccuGradient(a.net, thr, thrN); err != nil {
				return err
			}
		}
		r.dev.Since("accumulate", start)

		if err := r.barrier.Wait(); err != nil {
			return errAborted
		}
		start = time.Now()
		r.master.Update(thr, thrN)
		r.dev.Since("update", start)

		if err := r.barrier.Wait(); err != nil {
			return errAborted
		}
		if thr == 0 {
			r.master.ResetFrames()
			r.rounds++
			if r.checkpoint != nil && r.cfg.CheckpointEvery > 0 && r.rounds%r.cfg.CheckpointEvery == 0 {
				if err := r.checkpoint(r.master, r.rounds); err != nil {
					return fmt.Errorf("checkpoint after %d bunches: %w", r.rounds, err)
				}
			}
		}
	}
}
