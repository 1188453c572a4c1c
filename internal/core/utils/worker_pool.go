package utils

import (
	"context"
	"sync"
)

type CompletedTask[In any, Out any] struct {
	Input  In
	Result Out
	Error  error
}

// RunInPool feeds inputs to at most maxWorkers concurrent workers and streams
// results on the returned channel, which is closed once every input has been
// handled. Inputs not yet started when ctx is done complete with ctx.Err().
func RunInPool[In any, Out any](ctx context.Context, worker func(context.Context, In) (Out, error), inputs []In, maxWorkers int) <-chan CompletedTask[In, Out] {
	workers := max(1, min(len(inputs), maxWorkers))

	queue := make(chan In)
	completed := make(chan CompletedTask[In, Out], len(inputs))

	go func() {
		defer close(queue)
		for _, in := range inputs {
			queue <- in
		}
	}()

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					if err := ctx.Err(); err != nil {
						completed <- CompletedTask[In, Out]{Input: next, Error: err}
						continue
					}

					res, err := worker(ctx, next)
					completed <- CompletedTask[In, Out]{Input: next, Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()

	return completed
}
