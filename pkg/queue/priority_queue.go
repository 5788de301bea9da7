// Package queue holds pending crawl requests ordered by priority.
package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
)

type pqItem struct {
	req   *models.Request
	seq   uint64 // Insertion order, breaks priority ties FIFO
	index int
}

type requestHeap []*pqItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// RequestQueue is a blocking priority queue of requests, safe for concurrent use.
// Lower Request.Priority is popped first; equal priorities pop in insertion order.
type RequestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	h      requestHeap
	seq    uint64
	closed bool
	log    *logrus.Entry
}

// NewRequestQueue creates an empty queue
func NewRequestQueue(log *logrus.Entry) *RequestQueue {
	q := &RequestQueue{log: log}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Add pushes req. It returns false if the queue is closed.
func (q *RequestQueue) Add(req *models.Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warnf("Attempted to add request to closed queue: %s", req.URL)
		return false
	}
	q.seq++
	heap.Push(&q.h, &pqItem{req: req, seq: q.seq})
	q.cond.Signal()
	return true
}

// Pop blocks until a request is available and returns it, or returns
// false once the queue is closed and empty.
func (q *RequestQueue) Pop() (*models.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.h).(*pqItem).req, true
}

// Close stops accepting requests and wakes all waiting Pop calls.
// Requests already queued can still be popped.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the number of queued requests
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
