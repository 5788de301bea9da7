package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "poet-crawler/1.0"
	}

	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// Network retries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// Extraction retries (independent of max_retries)
	if c.PageRetryTimes == nil {
		n := DefaultPageRetryTimes
		c.PageRetryTimes = &n
	} else if *c.PageRetryTimes < 0 {
		warnings = append(warnings, "page_retry_times cannot be negative, setting to 0 (no extraction retries)")
		zero := 0
		c.PageRetryTimes = &zero
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	if c.PerRequestTimeout < 0 {
		warnings = append(warnings, "per_request_timeout cannot be negative, disabling timeout")
		c.PerRequestTimeout = 0
	}

	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 50 * 1024 * 1024
	}

	if c.FixturesDir == "" {
		c.FixturesDir = "fixtures"
	}

	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SpiderConfig fields.
// Returns collected warnings and any fatal error.
func (c *SpiderConfig) Validate() (warnings []string, err error) {
	if len(c.StartURLs) == 0 {
		return nil, fmt.Errorf("%w: spider has no start_urls", utils.ErrConfigValidation)
	}
	for i, raw := range c.StartURLs {
		if _, parseErr := url.ParseRequestURI(raw); parseErr != nil {
			return nil, fmt.Errorf("%w: start_urls[%d] '%s' is not a valid URL: %w", utils.ErrConfigValidation, i, raw, parseErr)
		}
	}

	if c.PageObject == "" {
		return nil, fmt.Errorf("%w: spider needs page_object", utils.ErrConfigValidation)
	}

	if c.PageRetryTimes != nil && *c.PageRetryTimes < 0 {
		warnings = append(warnings, "Spider page_retry_times cannot be negative, setting to 0")
		zero := 0
		c.PageRetryTimes = &zero
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "Spider delay_per_host cannot be negative, using global default")
		c.DelayPerHost = 0
	}

	return warnings, nil
}
