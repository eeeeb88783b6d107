package parallel

import "sync"

// Team runs body for threads 0..n-1, each on its own goroutine, and waits for
// all of them. All n threads run at once, so they may meet at a Barrier.
// A non-nil error is handed to abort as soon as its thread returns it.
func Team(n int, abort func(error), body func(thr int) error) {
	var wg sync.WaitGroup
	wg.Add(n)
	for thr := 0; thr < n; thr++ {
		go func(thr int) {
			defer wg.Done()
			if err := body(thr); err != nil {
				abort(err)
			}
		}(thr)
	}
	wg.Wait()
}
