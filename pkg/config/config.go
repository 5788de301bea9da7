package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// DefaultPageRetryTimes is the extraction retry budget when neither the spider nor the app sets one
const DefaultPageRetryTimes = 2

// SpiderConfig holds configuration specific to one crawl (a set of start URLs handled by one page object)
type SpiderConfig struct {
	StartURLs      []string      `yaml:"start_urls"`
	PageObject     string        `yaml:"page_object"`                // Registered page object name
	PageRetryTimes *int          `yaml:"page_retry_times,omitempty"` // Overrides the app-level extraction retry budget
	UserAgent      string        `yaml:"user_agent,omitempty"`
	DelayPerHost   time.Duration `yaml:"delay_per_host,omitempty"`
	ObeyRobots     *bool         `yaml:"obey_robots,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                  `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration           `yaml:"default_delay_per_host"`
	NumWorkers              int                     `yaml:"num_workers"`
	MaxRequests             int                     `yaml:"max_requests"`
	MaxRequestsPerHost      int                     `yaml:"max_requests_per_host"`
	StateDir                string                  `yaml:"state_dir"`
	MaxRetries              int                     `yaml:"max_retries,omitempty"` // Network-level retries inside the fetcher
	InitialRetryDelay       time.Duration           `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration           `yaml:"max_retry_delay,omitempty"`
	PageRetryTimes          *int                    `yaml:"page_retry_times,omitempty"` // Extraction retries requested by page objects
	SemaphoreAcquireTimeout time.Duration           `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalCrawlTimeout      time.Duration           `yaml:"global_crawl_timeout,omitempty"`
	PerRequestTimeout       time.Duration           `yaml:"per_request_timeout,omitempty"` // Timeout for fetching and handling one request (0 = none)
	MaxPageSizeBytes        int64                   `yaml:"max_page_size_bytes,omitempty"`
	ObeyRobots              bool                    `yaml:"obey_robots,omitempty"`
	FixturesDir             string                  `yaml:"fixtures_dir,omitempty"`
	MetricsAddr             string                  `yaml:"metrics_addr,omitempty"`
	HTTPClientSettings      HTTPClientConfig        `yaml:"http_client_settings,omitempty"`
	Spiders                 map[string]SpiderConfig `yaml:"spiders"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// Load reads and parses a YAML config file. It does not validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config '%s': %w", utils.ErrFilesystem, path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config '%s': %w", utils.ErrConfigValidation, path, err)
	}
	return &cfg, nil
}

// GetEffectivePageRetryTimes resolves the extraction retry budget: spider, then app, then DefaultPageRetryTimes
func GetEffectivePageRetryTimes(spiderCfg SpiderConfig, appCfg AppConfig) int {
	if spiderCfg.PageRetryTimes != nil {
		return *spiderCfg.PageRetryTimes
	}
	if appCfg.PageRetryTimes != nil {
		return *appCfg.PageRetryTimes
	}
	return DefaultPageRetryTimes
}

// GetEffectiveUserAgent returns the spider user agent, falling back to the global default
func GetEffectiveUserAgent(spiderCfg SpiderConfig, appCfg AppConfig) string {
	if spiderCfg.UserAgent != "" {
		return spiderCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost returns the spider politeness delay, falling back to the global default
func GetEffectiveDelayPerHost(spiderCfg SpiderConfig, appCfg AppConfig) time.Duration {
	if spiderCfg.DelayPerHost > 0 {
		return spiderCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveObeyRobots determines whether robots.txt is enforced for the spider
func GetEffectiveObeyRobots(spiderCfg SpiderConfig, appCfg AppConfig) bool {
	if spiderCfg.ObeyRobots != nil {
		return *spiderCfg.ObeyRobots
	}
	return appCfg.ObeyRobots
}
