package server

import (
	"context"
	"fmt"
	"sync"
)

// workRequest is a unit of work to be executed on a worker goroutine.
type workRequest struct {
	fn   func() any
	done chan workResult
}

// workResult holds the return value from a unit of work.
type workResult struct {
	value any
	err   error
}

// VMWorker runs evaluations on a fixed number of goroutines. Every
// evaluation builds its own VM, so the pool bounds concurrency and
// isolates panics rather than guarding shared state.
type VMWorker struct {
	requests chan workRequest
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewVMWorker creates a pool of n goroutines (at least one) and starts
// them.
func NewVMWorker(n int) *VMWorker {
	if n < 1 {
		n = 1
	}
	w := &VMWorker{
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	w.wg.Add(n)
	for i := 0; i < n; i++ {
		go w.loop()
	}
	return w
}

// loop processes requests until Stop.
func (w *VMWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *VMWorker) execute(fn func() any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("evaluation panicked: %v", r)
			}
		}()
		result.value = fn()
	}()
	return result
}

// Do submits fn and blocks until it completes. It gives up while still
// queued if ctx is done; once started, fn runs to completion.
func (w *VMWorker) Do(ctx context.Context, fn func() any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
}

// Stop shuts down the worker goroutines.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	w.wg.Wait()
}
