package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Failure records one fan-out item that did not produce a result, with its
// cause.
type Failure[T any] struct {
	Item T
	Err  error
}

// MapBounded runs worker over every item with at most maxConcurrency in
// flight. Item outcomes are independent: an error or panic in one worker is
// recorded as a failure and neither cancels nor delays its siblings.
// successes is in completion order, not submission order; callers must treat
// it as unordered. Every item lands in exactly one of the two slices. A
// cancelled ctx records the remaining unstarted items as failures with the
// context's error.
func MapBounded[T, R any](ctx context.Context, items []T, worker func(context.Context, T) (R, error), maxConcurrency int) ([]R, []Failure[T]) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	var (
		sem       = semaphore.NewWeighted(int64(maxConcurrency))
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes = make([]R, 0, len(items))
		failures  []Failure[T]
	)

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failures = append(failures, Failure[T]{Item: item, Err: err})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			res, err := runWorker(ctx, item, worker)
			mu.Lock()
			if err != nil {
				failures = append(failures, Failure[T]{Item: item, Err: err})
			} else {
				successes = append(successes, res)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return successes, failures
}

// runWorker isolates one worker invocation so a panic becomes that item's
// failure instead of taking down the batch.
func runWorker[T, R any](ctx context.Context, item T, worker func(context.Context, T) (R, error)) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: fan-out worker panicked: %v", r)
		}
	}()
	return worker(ctx, item)
}
