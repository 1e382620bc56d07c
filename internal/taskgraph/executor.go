package taskgraph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Executor runs graphs on a fixed number of workers. It holds no state
// between runs and may be shared.
type Executor struct {
	workers int
}

// NewExecutor returns an executor with the given worker count (minimum 1).
func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{workers: workers}
}

func (e *Executor) Workers() int { return e.workers }

type outcome struct {
	task *Task
	err  error
}

// Run executes every task of g once its predecessors have finished and
// blocks until all dispatched tasks return. A cyclic graph fails before any
// task starts. Cancelling ctx stops dispatching new tasks; tasks already
// running are not interrupted. Panics inside a task are recovered and
// reported in the returned error.
func (e *Executor) Run(ctx context.Context, g *Graph) error {
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	n := len(g.tasks)
	if n == 0 {
		return nil
	}

	remaining := make([]int, n)
	for _, t := range g.tasks {
		remaining[t.index] = t.preds
	}
	ready := make(chan *Task, n)
	done := make(chan outcome, n)

	var eg errgroup.Group
	for i := 0; i < min(e.workers, n); i++ {
		eg.Go(func() error {
			for t := range ready {
				done <- outcome{task: t, err: runTask(ctx, t)}
			}
			return nil
		})
	}

	inflight, finished := 0, 0
	dispatch := func(t *Task) {
		if ctx.Err() != nil {
			return
		}
		inflight++
		ready <- t
	}
	for _, t := range g.tasks {
		if remaining[t.index] == 0 {
			dispatch(t)
		}
	}

	var errs []error
	for inflight > 0 {
		o := <-done
		inflight--
		finished++
		if o.err != nil {
			errs = append(errs, o.err)
		}
		for _, s := range o.task.successors {
			remaining[s.index]--
			if remaining[s.index] == 0 {
				dispatch(s)
			}
		}
	}
	close(ready)
	_ = eg.Wait()

	if finished < n {
		errs = append(errs, fmt.Errorf("graph %q: %d of %d tasks not run: %w", g.name, n-finished, n, context.Cause(ctx)))
	}
	return errors.Join(errs...)
}

func runTask(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.name, r)
		}
	}()
	if t.fn != nil {
		t.fn(ctx)
	}
	return nil
}
