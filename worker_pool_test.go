package abs9p

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	pool := NewWorkerPool(4, nil)
	pool.Start()
	defer pool.Stop()

	var done sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		done.Add(1)
		ok := pool.Submit(func() {
			count.Add(1)
			done.Done()
		})
		if !ok {
			// Queue full is a valid outcome; run inline like callers do.
			count.Add(1)
			done.Done()
		}
	}

	done.Wait()
	if count.Load() != 20 {
		t.Errorf("ran %d tasks, want 20", count.Load())
	}
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	if pool.Submit(func() {}) {
		t.Error("Submit succeeded before Start")
	}
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	pool.Start()
	pool.Stop()
	if pool.Submit(func() {}) {
		t.Error("Submit succeeded after Stop")
	}
}

func TestWorkerPoolQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, nil)
	pool.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	if !pool.Submit(func() {
		close(started)
		<-release
	}) {
		t.Fatal("first Submit failed")
	}
	<-started

	// The single worker is parked; the queue holds maxWorkers*2 more.
	accepted := 0
	for pool.Submit(func() {}) {
		accepted++
		if accepted > 100 {
			t.Fatal("Submit never reported a full queue")
		}
	}
	if accepted != 2 {
		t.Errorf("queued %d tasks before full, want 2", accepted)
	}

	close(release)
	pool.Stop()
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool(3, nil)
	pool.Start()
	defer pool.Stop()

	maxWorkers, _, _ := pool.Stats()
	if maxWorkers != 3 {
		t.Errorf("maxWorkers = %d, want 3", maxWorkers)
	}

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		pool.Submit(func() {
			started <- struct{}{}
			<-release
		})
	}
	<-started
	<-started

	deadline := time.After(5 * time.Second)
	for {
		if _, active, _ := pool.Stats(); active == 2 {
			break
		}
		select {
		case <-deadline:
			_, active, _ := pool.Stats()
			t.Fatalf("active = %d, want 2", active)
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
}

func TestWorkerPoolClampsSize(t *testing.T) {
	pool := NewWorkerPool(0, nil)
	if maxWorkers, _, _ := pool.Stats(); maxWorkers != 1 {
		t.Errorf("maxWorkers = %d, want 1", maxWorkers)
	}

	pool = NewWorkerPool(-5, nil)
	if maxWorkers, _, _ := pool.Stats(); maxWorkers != 1 {
		t.Errorf("maxWorkers = %d, want 1", maxWorkers)
	}
}

func TestWorkerPoolStartStopIdempotent(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	pool.Start()
	pool.Start() // no-op

	var ran atomic.Bool
	done := make(chan struct{})
	pool.Submit(func() {
		ran.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}

	pool.Stop()
	pool.Stop() // no-op

	if !ran.Load() {
		t.Error("task did not run")
	}
}
