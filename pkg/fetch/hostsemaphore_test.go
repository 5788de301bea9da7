package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

func TestHostSemaphore_AcquireRelease_Basic(t *testing.T) {
	pool := NewHostSemaphorePool(2, 50*time.Millisecond, testLogger())

	release1, err := pool.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	release2, err := pool.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (all 2 slots held)
	if _, err := pool.Acquire(context.Background(), "host-a"); !errors.Is(err, utils.ErrSemaphoreTimeout) {
		t.Fatalf("expected ErrSemaphoreTimeout, got %v", err)
	}

	release1()
	release1() // Second call is a no-op
	release3, err := pool.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release2()
	release3()
}

func TestHostSemaphore_MultipleHosts(t *testing.T) {
	pool := NewHostSemaphorePool(1, 0, testLogger())

	releaseA, err := pool.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("host-a acquire failed: %v", err)
	}
	releaseB, err := pool.Acquire(context.Background(), "host-b")
	if err != nil {
		t.Fatalf("host-b acquire failed: %v", err)
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", pool.Len())
	}
	releaseA()
	releaseB()
}

func TestHostSemaphore_ContextCancelled(t *testing.T) {
	pool := NewHostSemaphorePool(1, time.Minute, testLogger())
	release, _ := pool.Acquire(context.Background(), "host-a")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx, "host-a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHostSemaphore_ConcurrencyLimit(t *testing.T) {
	pool := NewHostSemaphorePool(2, 0, testLogger())
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := pool.Acquire(context.Background(), "host")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent holders, saw %d", peak)
	}
}

func TestHostSemaphore_EvictIdle(t *testing.T) {
	pool := NewHostSemaphorePool(1, 0, testLogger())
	release, _ := pool.Acquire(context.Background(), "idle")
	release()
	held, _ := pool.Acquire(context.Background(), "busy")
	defer held()

	time.Sleep(20 * time.Millisecond)
	pool.evictIdle(10 * time.Millisecond)
	if pool.Len() != 1 {
		t.Errorf("expected only the busy host to remain, got %d entries", pool.Len())
	}
}
