package models

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sriram-PR/poet-crawler/pkg/parse"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// Meta keys understood by the engine and the retry layer
const (
	MetaRetryReason   = "retry_reason"    // Set on re-issued requests: reason of the last extraction retry
	MetaMaxRetryTimes = "max_retry_times" // Per-request override of the extraction retry budget (int)
)

// Callback processes a fetched response and returns items and follow-up requests
type Callback func(ctx context.Context, resp *Response) ([]Output, error)

// Output is one result of a callback: exactly one field is set
type Output struct {
	Item       any      // Delivered to the item pipelines
	Request    *Request // Scheduled on the engine queue
	DropReason string   // The response's request was dropped for good (no item, no retry)
}

// Request is a unit of work for the crawl engine
type Request struct {
	URL        string
	Method     string         // Defaults to GET when empty
	Header     http.Header    // Extra request headers
	Body       []byte         // Request body (part of the fingerprint)
	Meta       map[string]any // Opaque values carried across retries
	RetryCount int            // Extraction retries so far for this lineage
	Priority   int            // Lower value is dequeued first
	DontFilter bool           // Skip the duplicate filter (set on retries)
	Callback   Callback       // Nil means the spider's default callback
}

// NewRequest creates a GET request for rawURL
func NewRequest(rawURL string) *Request {
	return &Request{URL: rawURL, Method: http.MethodGet}
}

// EffectiveMethod returns the upper-cased method, GET when unset
func (r *Request) EffectiveMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Fingerprint returns the dedup key of the request.
// It covers method, canonical URL and body; RetryCount, Meta and Priority
// are deliberately not part of it so every attempt of one lineage shares it.
func (r *Request) Fingerprint() string {
	canonical := r.URL
	if parsed, err := url.Parse(r.URL); err == nil {
		canonical = parse.CanonicalizeURL(parsed)
	}
	return utils.CalculatePartsSHA256([]byte(r.EffectiveMethod()), []byte(canonical), r.Body)
}

// Clone returns a deep copy of the request: Meta, Header and Body are not shared
func (r *Request) Clone() *Request {
	clone := *r
	if r.Meta != nil {
		clone.Meta = maps.Clone(r.Meta)
	}
	if r.Header != nil {
		clone.Header = r.Header.Clone()
	}
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return &clone
}

// MetaInt reads an integer meta value, reporting whether it was present and numeric
func (r *Request) MetaInt(key string) (int, bool) {
	if r.Meta == nil {
		return 0, false
	}
	switch v := r.Meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Response is the fetched result of a Request
type Response struct {
	Request *Request
	URL     string // Final URL after redirects
	Status  int
	Header  http.Header
	Body    []byte
}
