package queue

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestRequestQueue_AddAndPop(t *testing.T) {
	q := NewRequestQueue(testLogger())
	if q.Len() != 0 {
		t.Fatalf("New queue Len() = %d, want 0", q.Len())
	}

	req := models.NewRequest("http://example.com")
	if !q.Add(req) {
		t.Fatal("Add() on open queue returned false")
	}
	if q.Len() != 1 {
		t.Errorf("After Add, Len() = %d, want 1", q.Len())
	}

	got, ok := q.Pop()
	if !ok || got != req {
		t.Fatalf("Pop() = %v, %v; want the added request", got, ok)
	}
}

func TestRequestQueue_PriorityOrder(t *testing.T) {
	q := NewRequestQueue(testLogger())
	q.Add(&models.Request{URL: "low", Priority: 5})
	q.Add(&models.Request{URL: "high", Priority: -1})
	q.Add(&models.Request{URL: "mid-1", Priority: 0})
	q.Add(&models.Request{URL: "mid-2", Priority: 0})

	want := []string{"high", "mid-1", "mid-2", "low"}
	for i, w := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() %d returned ok=false", i)
		}
		if got.URL != w {
			t.Errorf("Pop() %d = %q, want %q", i, got.URL, w)
		}
	}
}

func TestRequestQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewRequestQueue(testLogger())
	q.Add(models.NewRequest("a"))
	q.Close()

	if q.Add(models.NewRequest("b")) {
		t.Error("Add() after Close returned true")
	}
	if got, ok := q.Pop(); !ok || got.URL != "a" {
		t.Errorf("Pop() after Close = %v, %v; want queued request", got, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on closed empty queue returned ok=true")
	}
}

func TestRequestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewRequestQueue(testLogger())
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Pop(); ok {
				t.Error("waiter got a request from an empty closed queue")
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake blocked Pop calls")
	}
}

func TestRequestQueue_ConcurrentProducers(t *testing.T) {
	q := NewRequestQueue(testLogger())
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				q.Add(&models.Request{URL: "u", Priority: p*100 + i})
			}
		}()
	}
	wg.Wait()
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}
	last := -1 << 31
	for range 100 {
		req, _ := q.Pop()
		if req.Priority < last {
			t.Fatalf("priority order violated: %d after %d", req.Priority, last)
		}
		last = req.Priority
	}
}
