// Package stats accumulates named counters for one crawl run.
package stats

import (
	"sync"
	"sync/atomic"
)

// Counter names shared by the engine and the retry layer
const (
	RequestCount          = "downloader/request_count"  // One per engine fetch; network retries inside the fetcher count under fetch/retry/
	ResponseCount         = "downloader/response_count" // Every response handed to a callback
	ItemScrapedCount      = "item_scraped_count"        // Items that passed every pipeline
	ItemDroppedCount      = "item_dropped_count"        // Items a pipeline dropped
	DupeFiltered          = "dupefilter/filtered"       // Requests dropped by the duplicate filter
	RetryRequestsIssued   = "retry/requests_issued"     // Re-issued requests created by the retry coordinator
	RetryCount            = "retry/count"               // Extraction retries granted
	RetryReasonPrefix     = "retry/reason_count/"       // + reason
	RetryMaxReached       = "retry/max_reached"         // Lineages dropped after exhausting retries
	FetchRetryCount       = "fetch/retry/count"         // Network-level retries inside the fetcher
	FetchRetryReasonCount = "fetch/retry/reason_count/" // + error category
	FetchRetryMaxReached  = "fetch/retry/max_reached"   // Fetches that failed after all network retries
	RequestFailedPrefix   = "request/failed/"           // + error category
)

// RetryReasonKey returns the per-reason counter name for an extraction retry
func RetryReasonKey(reason string) string {
	return RetryReasonPrefix + reason
}

// Recorder is a set of named counters safe for concurrent use.
// A counter that was never incremented is absent, which Get reports
// separately from a zero value.
type Recorder struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{counters: make(map[string]*atomic.Int64)}
}

// Inc adds one to the named counter
func (r *Recorder) Inc(name string) {
	r.IncBy(name, 1)
}

// IncBy adds amount to the named counter, creating it on first use
func (r *Recorder) IncBy(name string, amount int64) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		c, ok = r.counters[name]
		if !ok {
			c = &atomic.Int64{}
			r.counters[name] = c
		}
		r.mu.Unlock()
	}
	c.Add(amount)
}

// Get returns the counter value and whether it was ever incremented
func (r *Recorder) Get(name string) (int64, bool) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

// Value returns the counter value, zero when absent
func (r *Recorder) Value(name string) int64 {
	v, _ := r.Get(name)
	return v
}

// Snapshot copies all counters present at call time
func (r *Recorder) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	return out
}
