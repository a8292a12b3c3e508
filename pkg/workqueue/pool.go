// Package workqueue implements a generic worker-pool scheduler that
// drives heterogeneous work queues with bounded concurrency, pausing,
// draining, and reactive thread-count resizing.
//
// A ThreadPool owns a set of worker goroutines and an ordered list of
// registered queues. Workers round-robin across queues, dequeuing one
// item at a time, running it through Process then ProcessFinish outside
// the pool lock. Concrete queues are built with NewFIFO / NewBatchFIFO
// (or, for custom dequeue semantics, NewSingleQueue / NewBatchQueue over
// a caller-supplied ItemQueue / BatchItemQueue implementation) — the pool
// itself never sees the item type, only the small workQueue contract
// every registered queue satisfies.
package workqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/blockforge/iopool/pkg/logging"
)

// workQueue is the type-erased contract the pool drives. SingleQueue[T]
// and BatchQueue[T] are its only implementations; callers never
// implement it directly.
//
// TimeoutInterval and SuicideInterval are per-item soft/hard timeouts.
// A process-wide heartbeat subsystem that watches these continuously is
// out of scope; the pool's best-effort stand-in is to measure each
// item's Process+ProcessFinish wall time directly and treat a
// SuicideInterval overrun as fatal: the process aborts.
type workQueue interface {
	Name() string
	TimeoutInterval() time.Duration
	SuicideInterval() time.Duration

	voidClear()
	voidEmpty() bool
	voidDequeue() (interface{}, bool)
	voidProcess(item interface{})
	voidProcessFinish(item interface{})
}

// ThreadPool schedules work across a bounded set of worker goroutines
// and an ordered list of registered WorkQueues. See the package doc for
// the round-robin/pause/drain/resize contract.
type ThreadPool struct {
	mu       sync.Mutex
	workCond *sync.Cond // signaled on new work, shutdown, pause/unpause, resize
	waitCond *sync.Cond // signaled when processing decreases or the pool idles

	name string
	log  *logging.Logger

	running bool
	stop    bool
	pause   int
	draining int

	queues        []workQueue
	lastWorkQueue int

	threads    map[*worker]struct{}
	wg         sync.WaitGroup
	nextID     int
	numThreads int

	processing        int
	processingByQueue map[workQueue]int

	observer    *FileObserver
	observerKey string
}

type worker struct {
	id int
}

// Option configures a ThreadPool at construction time.
type Option func(*ThreadPool)

// WithLogger attaches a logger. Defaults to logging.Nop().
func WithLogger(log *logging.Logger) Option {
	return func(p *ThreadPool) { p.log = log }
}

// WithThreadCountKey subscribes the pool to key on obs: whenever key's
// value changes, the pool resizes its target thread count to match.
func WithThreadCountKey(obs *FileObserver, key string) Option {
	return func(p *ThreadPool) {
		p.observer = obs
		p.observerKey = key
	}
}

// New constructs a ThreadPool with the given name and target thread
// count. The pool is not started; call Start.
func New(name string, numThreads int, opts ...Option) *ThreadPool {
	p := &ThreadPool{
		name:              name,
		log:               logging.Nop(),
		threads:           make(map[*worker]struct{}),
		numThreads:        numThreads,
		processingByQueue: make(map[workQueue]int),
	}
	p.workCond = sync.NewCond(&p.mu)
	p.waitCond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}

	if p.observer != nil && p.observerKey != "" {
		p.observer.SubscribeInt(p.observerKey, p.setThreadCount)
	}

	return p
}

func (p *ThreadPool) addWorkQueue(q workQueue) {
	p.mu.Lock()
	p.queues = append(p.queues, q)
	p.mu.Unlock()
}

// removeWorkQueue unregisters q. It panics if q was never registered:
// removing an absent queue is always a caller bug.
func (p *ThreadPool) removeWorkQueue(q workQueue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, qq := range p.queues {
		if qq == q {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("workqueue: remove of unregistered queue %q", q.Name()))
	}
	p.queues = append(p.queues[:idx], p.queues[idx+1:]...)
	delete(p.processingByQueue, q)
}

// Start spawns worker goroutines up to the target thread count. It is
// idempotent only while the pool is stopped; calling it on a running
// pool returns an error.
func (p *ThreadPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("workqueue: pool %q already started", p.name)
	}

	p.stop = false
	p.running = true
	for i := len(p.threads); i < p.numThreads; i++ {
		p.spawnWorkerLocked()
	}
	return nil
}

func (p *ThreadPool) spawnWorkerLocked() {
	p.nextID++
	w := &worker{id: p.nextID}
	p.threads[w] = struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.workerLoop(w)
	}()
}

// Stop sets the stop flag, wakes every worker, and blocks until all of
// them have exited. If clear is true, Clear is invoked on every
// registered queue after every worker has joined. Calling Stop on an
// already-stopped pool is a safe no-op.
func (p *ThreadPool) Stop(clear bool) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stop = true
	p.running = false
	p.workCond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	if clear {
		p.mu.Lock()
		queues := append([]workQueue(nil), p.queues...)
		p.mu.Unlock()
		for _, q := range queues {
			q.voidClear()
		}
	}

	p.log.Info("thread pool stopped", logging.Fields{"pool": p.name})
}

// Pause increments the pause counter and blocks until every in-flight
// item has finished processing. Unpause must be called once per Pause
// to resume dequeuing.
func (p *ThreadPool) Pause() {
	p.mu.Lock()
	p.pause++
	p.workCond.Broadcast()
	for p.processing > 0 {
		p.waitCond.Wait()
	}
	p.mu.Unlock()
}

// PauseNew increments the pause counter without waiting for in-flight
// items to finish; those items run to completion, but no new item
// begins processing until Unpause is called an equal number of times.
func (p *ThreadPool) PauseNew() {
	p.mu.Lock()
	p.pause++
	p.workCond.Broadcast()
	p.mu.Unlock()
}

// Unpause decrements the pause counter and wakes workers. It panics if
// called more times than Pause/PauseNew, which is always a caller bug.
func (p *ThreadPool) Unpause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pause == 0 {
		panic("workqueue: Unpause called without a matching Pause/PauseNew")
	}
	p.pause--
	p.workCond.Broadcast()
}

// drain blocks until q is empty and no worker is processing one of its
// items. A nil q drains every registered queue and waits for
// processing to reach zero across the whole pool.
func (p *ThreadPool) drain(q workQueue) {
	p.mu.Lock()
	p.draining++
	p.workCond.Broadcast()
	for !p.quiescentLocked(q) {
		p.waitCond.Wait()
	}
	p.draining--
	p.mu.Unlock()
}

func (p *ThreadPool) quiescentLocked(q workQueue) bool {
	if q != nil {
		return q.voidEmpty() && p.processingByQueue[q] == 0
	}
	if p.processing != 0 {
		return false
	}
	for _, qq := range p.queues {
		if !qq.voidEmpty() {
			return false
		}
	}
	return true
}

// Wake signals the work condition without the caller holding the pool
// lock.
func (p *ThreadPool) Wake() {
	p.mu.Lock()
	p.workCond.Broadcast()
	p.mu.Unlock()
}

// setThreadCount applies a new target thread count. Equal to the
// current target, it is a no-op. A larger target spawns
// additional workers immediately; a smaller one is honored lazily as
// surplus workers notice on their next wakeup and retire themselves —
// no worker is ever preempted mid-item.
func (p *ThreadPool) setThreadCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n == p.numThreads {
		return
	}
	old := p.numThreads
	p.numThreads = n
	if p.running {
		for i := len(p.threads); i < n; i++ {
			p.spawnWorkerLocked()
		}
	}
	p.workCond.Broadcast()
	p.log.Info("thread pool resized", logging.Fields{"pool": p.name, "from": old, "to": n})
}

// workerLoop is the per-worker state machine: it holds p.mu for all
// queue inspection and dequeuing, and releases it across
// Process/ProcessFinish.
func (p *ThreadPool) workerLoop(w *worker) {
	p.mu.Lock()
	for {
		if p.stop {
			break
		}

		if p.pause > 0 {
			p.waitCond.Broadcast()
			p.workCond.Wait()
			continue
		}

		if len(p.threads) > p.numThreads {
			break
		}

		item, q, ok := p.dequeueLocked()
		if !ok {
			p.workCond.Wait()
			continue
		}

		p.processing++
		p.processingByQueue[q]++
		p.mu.Unlock()

		start := time.Now()
		q.voidProcess(item)
		q.voidProcessFinish(item)
		elapsed := time.Since(start)

		if suicide := q.SuicideInterval(); suicide > 0 && elapsed > suicide {
			p.log.Error("work item exceeded suicide interval, aborting", logging.Fields{
				"pool": p.name, "queue": q.Name(), "elapsed": elapsed, "suicide_interval": suicide,
			})
			panic(fmt.Sprintf("workqueue: queue %q item ran %s, exceeding its suicide interval of %s", q.Name(), elapsed, suicide))
		}
		if timeout := q.TimeoutInterval(); timeout > 0 && elapsed > timeout {
			p.log.Warn("work item exceeded timeout interval", logging.Fields{
				"pool": p.name, "queue": q.Name(), "elapsed": elapsed, "timeout_interval": timeout,
			})
		}

		p.mu.Lock()
		p.processing--
		p.processingByQueue[q]--
		if p.processingByQueue[q] == 0 {
			delete(p.processingByQueue, q)
		}
		p.waitCond.Broadcast()
	}
	delete(p.threads, w)
	p.mu.Unlock()
}

// dequeueLocked scans queues starting at (lastWorkQueue+1)%N, returning
// the first non-empty queue that actually yields an item. A queue whose
// Empty() was false but whose dequeue races to nothing is treated as
// empty for this round.
func (p *ThreadPool) dequeueLocked() (interface{}, workQueue, bool) {
	n := len(p.queues)
	if n == 0 {
		return nil, nil, false
	}
	for i := 0; i < n; i++ {
		idx := (p.lastWorkQueue + 1 + i) % n
		q := p.queues[idx]
		if q.voidEmpty() {
			continue
		}
		item, ok := q.voidDequeue()
		if !ok {
			continue
		}
		p.lastWorkQueue = idx
		return item, q, true
	}
	return nil, nil, false
}
