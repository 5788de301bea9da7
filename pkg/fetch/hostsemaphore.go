package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

type hostEntry struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	lastRelease time.Time // zero if never released
}

// HostSemaphorePool limits concurrent requests per host
type HostSemaphorePool struct {
	mu      sync.Mutex
	entries map[string]*hostEntry
	limit   int64
	timeout time.Duration // 0 waits until ctx is done
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent
// requests per host. Acquire gives up after timeout (0 = no timeout).
func NewHostSemaphorePool(maxPerHost int, timeout time.Duration, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
	}
	return &HostSemaphorePool{
		entries: make(map[string]*hostEntry),
		limit:   limit,
		timeout: timeout,
		log:     log,
	}
}

// Acquire takes one permit for host and returns the function releasing it.
// A timeout wraps utils.ErrSemaphoreTimeout.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) (release func(), err error) {
	p.mu.Lock()
	entry, exists := p.entries[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(p.limit)}
		p.entries[host] = entry
	}
	entry.activeCount++
	p.mu.Unlock()

	acquireCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		entry.activeCount--
		p.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: host '%s': %w", utils.ErrSemaphoreTimeout, host, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			entry.activeCount--
			entry.lastRelease = time.Now()
			p.mu.Unlock()
			entry.sem.Release(1)
		})
	}, nil
}

// RunEviction periodically drops idle host entries. Should be run in a goroutine.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	evicted := 0
	for host, entry := range p.entries {
		if entry.activeCount == 0 && !entry.lastRelease.IsZero() && now.Sub(entry.lastRelease) >= maxIdle {
			delete(p.entries, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host semaphores, %d remain", evicted, len(p.entries))
	}
}

// Len returns the number of tracked hosts
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
