package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler fetches, caches and checks robots.txt per host.
// Hosts whose robots.txt cannot be fetched or parsed allow everything.
type RobotsHandler struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	userAgent   string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // host -> parsed data (nil = allow all)
	log   *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. userAgent is sent when fetching robots.txt.
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		userAgent:   userAgent,
		cache:       make(map[string]*robotstxt.RobotsData),
		log:         log.WithField("component", "robots"),
	}
}

// Allowed reports whether userAgent may fetch target
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rh.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}

func (rh *RobotsHandler) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host
	rh.mu.Lock()
	data, found := rh.cache[host]
	rh.mu.Unlock()
	if found {
		return data
	}

	data = rh.fetchRobots(ctx, target)
	if ctx.Err() != nil {
		return data // Not cached: a later request retries the fetch
	}
	rh.mu.Lock()
	rh.cache[host] = data
	rh.mu.Unlock()
	return data
}

func (rh *RobotsHandler) fetchRobots(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)

	if err := rh.rateLimiter.Wait(ctx, target.Hostname(), 0); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rh.userAgent)

	resp, err := rh.fetcher.FetchWithRetry(ctx, req)
	rh.rateLimiter.Touch(target.Hostname())
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		robotsLog.Debugf("No usable robots.txt: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		return nil
	}
	robotsLog.Debug("Fetched and parsed robots.txt")
	return data
}
