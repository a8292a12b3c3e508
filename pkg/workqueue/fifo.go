package workqueue

import "time"

// FIFO is a ready-to-use single-item queue with FIFO dequeue order,
// backed by a slice. Most callers can use this directly instead of
// implementing ItemQueue themselves.
type FIFO[T any] struct {
	*SingleQueue[T]

	items         []T
	process       func(T)
	processFinish func(T)
}

// NewFIFO creates a FIFO queue, registers it with pool under name, and
// returns it ready for Push. processFinish may be nil for queues with
// no finalizer step. timeout/suicide are the per-item soft/hard
// timeouts; pass 0 to disable either.
func NewFIFO[T any](pool *ThreadPool, name string, timeout, suicide time.Duration, process func(T), processFinish func(T)) *FIFO[T] {
	f := &FIFO[T]{process: process, processFinish: processFinish}
	f.SingleQueue = NewSingleQueue[T](pool, name, timeout, suicide, f)
	return f
}

func (f *FIFO[T]) Empty() bool { return len(f.items) == 0 }

func (f *FIFO[T]) DequeueOne() (T, bool) {
	if len(f.items) == 0 {
		var zero T
		return zero, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}

func (f *FIFO[T]) Process(item T) {
	if f.process != nil {
		f.process(item)
	}
}

func (f *FIFO[T]) ProcessFinish(item T) {
	if f.processFinish != nil {
		f.processFinish(item)
	}
}

func (f *FIFO[T]) Clear() { f.items = nil }

// Push appends item under the pool lock and wakes a worker.
func (f *FIFO[T]) Push(item T) {
	f.pool.mu.Lock()
	f.items = append(f.items, item)
	f.pool.workCond.Broadcast()
	f.pool.mu.Unlock()
}

// Len returns the current queue depth. Racy with concurrent Push/
// dequeue unless the caller otherwise knows the pool is quiescent.
func (f *FIFO[T]) Len() int {
	f.pool.mu.Lock()
	defer f.pool.mu.Unlock()
	return len(f.items)
}

// BatchFIFO is a ready-to-use batch queue: a single Push enqueues one
// logical item, but DequeueBatch drains everything queued so far into
// one batch for Process.
type BatchFIFO[T any] struct {
	*BatchQueue[T]

	items         []T
	process       func([]T)
	processFinish func([]T)
}

// NewBatchFIFO mirrors NewFIFO for batch queues; timeout/suicide bound
// the whole batch's Process+ProcessFinish wall time.
func NewBatchFIFO[T any](pool *ThreadPool, name string, timeout, suicide time.Duration, process func([]T), processFinish func([]T)) *BatchFIFO[T] {
	f := &BatchFIFO[T]{process: process, processFinish: processFinish}
	f.BatchQueue = NewBatchQueue[T](pool, name, timeout, suicide, f)
	return f
}

func (f *BatchFIFO[T]) Empty() bool { return len(f.items) == 0 }

func (f *BatchFIFO[T]) DequeueBatch() ([]T, bool) {
	if len(f.items) == 0 {
		return nil, false
	}
	items := f.items
	f.items = nil
	return items, true
}

func (f *BatchFIFO[T]) Process(items []T) {
	if f.process != nil {
		f.process(items)
	}
}

func (f *BatchFIFO[T]) ProcessFinish(items []T) {
	if f.processFinish != nil {
		f.processFinish(items)
	}
}

func (f *BatchFIFO[T]) Clear() { f.items = nil }

func (f *BatchFIFO[T]) Push(item T) {
	f.pool.mu.Lock()
	f.items = append(f.items, item)
	f.pool.workCond.Broadcast()
	f.pool.mu.Unlock()
}
