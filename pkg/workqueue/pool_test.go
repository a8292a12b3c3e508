package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not satisfied within %s", timeout)
	}
}

// TestThreadPoolFairness registers two single-item FIFOs on a two-thread
// pool and confirms both get drained, exercising the round-robin
// dequeue order rather than one queue starving the other.
func TestThreadPoolFairness(t *testing.T) {
	pool := New("fairness", 2)

	var aCount, bCount int32
	a := NewFIFO[int](pool, "a", 0, 0, func(int) { atomic.AddInt32(&aCount, 1) }, nil)
	b := NewFIFO[int](pool, "b", 0, 0, func(int) { atomic.AddInt32(&bCount, 1) }, nil)

	for i := 0; i < 20; i++ {
		a.Push(i)
		b.Push(i)
	}

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(true)

	pool.drain(nil)

	if got := atomic.LoadInt32(&aCount); got != 20 {
		t.Fatalf("queue a processed %d items, want 20", got)
	}
	if got := atomic.LoadInt32(&bCount); got != 20 {
		t.Fatalf("queue b processed %d items, want 20", got)
	}
}

// TestThreadPoolPauseBlocksUntilInFlightFinishes verifies Pause waits
// for the in-flight item to finish and that items queued during the
// pause are not processed until Unpause.
func TestThreadPoolPauseBlocksUntilInFlightFinishes(t *testing.T) {
	pool := New("pause", 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var processed int32

	q := NewFIFO[int](pool, "q", 0, 0, func(item int) {
		if item == 0 {
			close(started)
			<-release
		}
		atomic.AddInt32(&processed, 1)
	}, nil)

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(true)

	q.Push(0)
	<-started

	pauseDone := make(chan struct{})
	go func() {
		pool.Pause()
		close(pauseDone)
	}()

	// Pause must not return while item 0 is still in flight.
	select {
	case <-pauseDone:
		t.Fatalf("Pause returned before in-flight item finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-pauseDone

	// Queue more work while paused; it must not be processed yet.
	q.Push(1)
	q.Push(2)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&processed); got != 1 {
		t.Fatalf("processed = %d while paused, want 1", got)
	}

	pool.Unpause()
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&processed) == 3 })
}

// TestThreadPoolUnpauseWithoutPausePanics confirms Unpause panics when
// called without a matching Pause.
func TestThreadPoolUnpauseWithoutPausePanics(t *testing.T) {
	pool := New("unpause", 1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic from unmatched Unpause")
		}
	}()
	pool.Unpause()
}

// TestThreadPoolRemoveUnregisteredQueuePanics confirms removing a queue
// that was never registered with the pool panics.
func TestThreadPoolRemoveUnregisteredQueuePanics(t *testing.T) {
	pool := New("remove", 1)
	other := New("other", 1)
	q := NewFIFO[int](other, "orphan", 0, 0, func(int) {}, nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing a queue never registered with pool")
		}
	}()
	pool.removeWorkQueue(q.SingleQueue)
}

// TestThreadPoolStopIsIdempotent confirms calling Stop twice, and
// calling it when never started, does not block or panic.
func TestThreadPoolStopIsIdempotent(t *testing.T) {
	pool := New("stop-idempotent", 2)
	pool.Stop(true)
	pool.Stop(true)

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pool.Stop(true)
	pool.Stop(true)
}

// TestThreadPoolSetThreadCountGrows confirms a larger target thread
// count spawns additional workers on a running pool.
func TestThreadPoolSetThreadCountGrows(t *testing.T) {
	pool := New("resize", 1)
	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(true)

	pool.setThreadCount(4)
	waitFor(t, time.Second, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.threads) == 4
	})
}

// TestThreadPoolSetThreadCountShrinksLazily confirms that lowering the
// target makes idle surplus workers retire themselves until the worker
// count matches it.
func TestThreadPoolSetThreadCountShrinksLazily(t *testing.T) {
	pool := New("shrink", 4)
	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(true)

	waitFor(t, time.Second, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.threads) == 4
	})

	pool.setThreadCount(1)
	waitFor(t, time.Second, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.threads) == 1
	})
}

// TestThreadPoolSuicideIntervalPanics confirms an item that overruns
// its suicide interval aborts the worker.
func TestThreadPoolSuicideIntervalPanics(t *testing.T) {
	pool := New("suicide", 1)
	q := NewFIFO[int](pool, "slow", 0, 5*time.Millisecond, func(int) {
		time.Sleep(20 * time.Millisecond)
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var panicked bool
	var mu sync.Mutex
	oldThreads := pool.threads

	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				mu.Lock()
				panicked = true
				mu.Unlock()
			}
		}()
		pool.workerLoop(&worker{id: 99})
	}()
	_ = oldThreads

	q.Push(1)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !panicked {
		t.Fatalf("expected workerLoop to panic on suicide interval overrun")
	}
}

// TestThreadPoolDrainSingleQueue confirms draining one named queue
// waits only for that queue, not the whole pool.
func TestThreadPoolDrainSingleQueue(t *testing.T) {
	pool := New("drain-one", 2)

	release := make(chan struct{})
	slow := NewFIFO[int](pool, "slow", 0, 0, func(int) { <-release }, nil)
	var fastCount int32
	fast := NewFIFO[int](pool, "fast", 0, 0, func(int) { atomic.AddInt32(&fastCount, 1) }, nil)

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		pool.Stop(true)
	}()

	slow.Push(1)
	time.Sleep(10 * time.Millisecond) // let the slow item start processing

	fast.Push(1)
	fast.Drain()

	if got := atomic.LoadInt32(&fastCount); got != 1 {
		t.Fatalf("fast queue processed %d items, want 1", got)
	}
}
