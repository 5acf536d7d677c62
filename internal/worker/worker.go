package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/simpsons/internal/types"
)

// DefaultWorkers is the number of transform engines running side by side.
const DefaultWorkers = 8

// ProcessFunc turns one annotation into a sample. It must not touch state
// shared with other calls.
type ProcessFunc func(task types.TransformTask) (types.Sample, error)

// Pool fans tasks out to a fixed number of workers and funnels every result
// into a single consumer. Results arrive in completion order, not task order.
type Pool struct {
	Workers int
	Process ProcessFunc
}

func NewPool(workers int, process ProcessFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{Workers: workers, Process: process}
}

type result struct {
	sample types.Sample
	err    error
}

// Run processes every task and calls emit once per sample from a single
// goroutine, so emit may write to a non thread-safe sink. The first error
// from a worker or from emit stops the pool and is returned.
func (p *Pool) Run(ctx context.Context, tasks []types.TransformTask, emit func(types.Sample) error) error {
	// Make sure stragglers exit when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan types.TransformTask, p.Workers)
	resultsChan := make(chan result, p.Workers*2)
	var wg sync.WaitGroup

	// 1. Spawn the worker pool
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range taskChan {
				sample, err := p.Process(task)
				if err != nil {
					err = fmt.Errorf("worker %d, record %d: %w", workerID, task.Index, err)
				}
				select {
				case resultsChan <- result{sample: sample, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	// 2. Feed tasks
	go func() {
		defer close(taskChan)
		for _, task := range tasks {
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// 3. Single consumer
	for res := range resultsChan {
		if res.err != nil {
			cancel()
			drain(resultsChan)
			return res.err
		}
		if err := emit(res.sample); err != nil {
			cancel()
			drain(resultsChan)
			return err
		}
	}

	return ctx.Err()
}

// drain lets blocked workers finish so the WaitGroup can close the channel.
func drain(ch <-chan result) {
	for range ch {
	}
}
