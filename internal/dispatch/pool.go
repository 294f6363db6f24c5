// Package dispatch runs independent tasks on a bounded pool of goroutines.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPanic wraps a value recovered from a panicking task.
var ErrPanic = errors.New("task panicked")

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Report is the result of one task, in submission order.
type Report[T any] struct {
	Index    int
	Value    T
	Err      error
	Duration time.Duration
}

// Pool bounds how many tasks run at once.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// New returns a pool running at most workers tasks concurrently. A value
// below one is treated as one.
func New(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, logger: logger}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Run executes every task and returns once all have finished. A failing or
// panicking task is logged and reported but never cancels its siblings.
// Tasks not yet started when ctx is done report ctx.Err() without running.
func Run[T any](ctx context.Context, p *Pool, tasks []Task[T]) []Report[T] {
	reports := make([]Report[T], len(tasks))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, task := range tasks {
		i, task := i, task
		reports[i].Index = i
		if err := ctx.Err(); err != nil {
			reports[i].Err = err
			continue
		}
		g.Go(func() error {
			start := time.Now()
			v, err := call(ctx, task)
			reports[i].Value = v
			reports[i].Err = err
			reports[i].Duration = time.Since(start)
			if err != nil {
				p.logger.Warn("task failed", zap.Int("task", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Map applies fn to every input on the pool.
func Map[In, Out any](ctx context.Context, p *Pool, in []In, fn func(context.Context, In) (Out, error)) []Report[Out] {
	tasks := make([]Task[Out], len(in))
	for i := range in {
		v := in[i]
		tasks[i] = func(ctx context.Context) (Out, error) { return fn(ctx, v) }
	}
	return Run(ctx, p, tasks)
}

// Errors joins the errors of all failed reports, or returns nil.
func Errors[T any](reports []Report[T]) error {
	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", r.Index, r.Err))
		}
	}
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return task(ctx)
}
