package platform

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"tnet/neuralnet"
)

// read deals utterances from src to the worker queues in turn. It pauses
// while every queue is above the low water mark.
func (r *run) read(ctx context.Context, src Source) {
	defer r.endOfStream.Store(true)
	for next, count := 0, 0; ; count++ {
		if ctx.Err() != nil {
			r.logger.Printf("input cancelled after %d utterances: %v", count, ctx.Err())
			return
		}
		if r.failed.Load() {
			return
		}
		features, targets, err := src.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if errors.Is(err, ErrSkipUtterance) {
			r.logger.Printf("warning: utterance %d: %v", count, err)
			r.skipped.Add(1)
			continue
		}
		if err != nil {
			r.fail(fmt.Errorf("utterance %d: %w", count, err))
			return
		}
		if err := r.check(features, targets); err != nil {
			r.fail(fmt.Errorf("utterance %d: %w", count, err))
			return
		}
		rows, _ := features.Dims()
		r.utterances.Add(1)
		r.frames.Add(int64(rows))

		r.workers[next].push(features, targets)
		next = (next + 1) % len(r.workers)

		for r.saturated() && !r.failed.Load() && ctx.Err() == nil {
			r.flow.Wait()
		}
	}
}

func (r *run) check(features, targets *mat.Dense) error {
	if features == nil || targets == nil {
		return neuralnet.ConfigError("source returned a nil matrix")
	}
	fr, fc := features.Dims()
	tr, tc := targets.Dims()
	if fr != tr {
		return neuralnet.DimensionError("%d feature rows, %d target rows", fr, tr)
	}
	if fc != r.master.InputDim() {
		return neuralnet.DimensionError("%d feature columns, network takes %d", fc, r.master.InputDim())
	}
	if tc != r.master.OutputDim() {
		return neuralnet.DimensionError("%d target columns, network outputs %d", tc, r.master.OutputDim())
	}
	return nil
}

// saturated reports whether every queue is above the low water mark.
func (r *run) saturated() bool {
	for _, w := range r.workers {
		if w.queueLen() <= r.cfg.QueueLowWater {
			return false
		}
	}
	return true
}
