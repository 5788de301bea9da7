package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// RequestDBEntry stores the result of processing a request lineage in the database
type RequestDBEntry struct {
	URL         string         `json:"url"`
	Method      string         `json:"method,omitempty"`
	Body        []byte         `json:"body,omitempty"`
	Header      http.Header    `json:"header,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"` // JSON-encodable request meta, restored on resume
	Status      RequestStatus  `json:"status"`
	ErrorType   string         `json:"error_type,omitempty"`   // Error category (on failure)
	RetryCount  int            `json:"retry_count,omitempty"`  // Extraction retries at the last attempt
	RetryReason string         `json:"retry_reason,omitempty"` // Reason of the last extraction retry
	ProcessedAt time.Time      `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt time.Time      `json:"last_attempt"`
	Priority    int            `json:"priority"`
}

// StorableMeta returns the entries of meta that can be encoded as JSON.
// Numbers come back as float64 after a round trip; Request.MetaInt accepts them.
func StorableMeta(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if _, err := json.Marshal(v); err != nil {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CrawlSummary holds the end-of-run report of a crawl session
type CrawlSummary struct {
	RunID          string           `yaml:"run_id" json:"run_id"`
	SpiderName     string           `yaml:"spider_name" json:"spider_name"`
	CrawlStartTime time.Time        `yaml:"crawl_start_time" json:"crawl_start_time"`
	CrawlEndTime   time.Time        `yaml:"crawl_end_time" json:"crawl_end_time"`
	ItemsScraped   int64            `yaml:"items_scraped" json:"items_scraped"`
	Stats          map[string]int64 `yaml:"stats,omitempty" json:"stats,omitempty"`
}
