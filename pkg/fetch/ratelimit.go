package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces requests to the same host
type RateLimiter struct {
	mu           sync.Mutex
	lastRequest  map[string]time.Time // host -> last request attempt
	defaultDelay time.Duration
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter; defaultDelay applies when Wait gets a non-positive delay
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		lastRequest:  make(map[string]time.Time),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// Wait blocks until minDelay (+/-10% jitter) has passed since the last
// request to host, or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return ctx.Err()
	}

	rl.mu.Lock()
	last, exists := rl.lastRequest[host]
	rl.mu.Unlock()
	if !exists {
		return ctx.Err()
	}

	elapsed := time.Since(last)
	if elapsed >= minDelay {
		return ctx.Err()
	}
	sleep := minDelay - elapsed
	if jitterRange := int64(sleep) / 5; jitterRange > 0 {
		sleep += time.Duration(rand.Int63n(jitterRange)) - sleep/10
	}
	if sleep <= 0 {
		return ctx.Err()
	}

	rl.log.WithFields(logrus.Fields{"host": host, "sleep": sleep, "required_delay": minDelay}).Debug("Rate limit applying sleep")
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch records now as the last request attempt to host. Call it after the attempt.
func (rl *RateLimiter) Touch(host string) {
	rl.mu.Lock()
	rl.lastRequest[host] = time.Now()
	rl.mu.Unlock()
}
