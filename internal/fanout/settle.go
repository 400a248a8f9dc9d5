// Package fanout runs groups of independent tasks and joins every result.
//
// Unlike errgroup.WithContext, one failing task never cancels its siblings:
// each task reports into its own slot and the caller inspects the slots after
// the whole group has finished.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Result is the settled outcome of one task.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task completed without error.
func (r Result[T]) OK() bool { return r.Err == nil }

// Task is one unit of work in a group.
type Task[T any] func(ctx context.Context) (T, error)

// PanicError is reported for a task that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// Settle runs every task concurrently and blocks until all of them finished.
//
// results[i] always corresponds to tasks[i], regardless of completion order.
// A panic inside a task is recovered and reported as that task's error.
// limit <= 0 runs all tasks at once.
func Settle[T any](ctx context.Context, limit int, tasks ...Task[T]) []Result[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = run(ctx, task)
			// Never report to the group: an error here would only be the first
			// one, and each slot already carries its own.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func run[T any](ctx context.Context, task Task[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: &PanicError{Value: r, Stack: string(debug.Stack())}}
		}
	}()
	if task == nil {
		return Result[T]{Err: fmt.Errorf("nil task")}
	}
	v, err := task(ctx)
	return Result[T]{Value: v, Err: err}
}

// Count returns how many results succeeded and failed.
func Count[T any](results []Result[T]) (ok, failed int) {
	for _, r := range results {
		if r.Err == nil {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
