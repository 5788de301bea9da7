// Package fetch downloads requests for the crawl engine: HTTP client setup,
// network-level retries, per-host politeness and robots.txt checks.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// Fetcher performs HTTP requests with retries for transient network errors,
// 5xx and 429 responses. These network retries are independent of the
// extraction retries page objects request; they are counted under fetch/retry/*.
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig
	stats  *stats.Recorder
	log    *logrus.Entry
}

// NewFetcher creates a Fetcher. rec may be nil.
func NewFetcher(client *http.Client, cfg *config.AppConfig, rec *stats.Recorder, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		stats:  rec,
		log:    log.WithField("component", "fetcher"),
	}
}

// Fetch downloads req and reads its body (bounded by max_page_size_bytes).
// Non-2xx responses are returned as errors wrapping the HTTP sentinel errors.
func (f *Fetcher) Fetch(ctx context.Context, req *models.Request, userAgent string) (*models.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.EffectiveMethod(), req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrRequestCreation, req.EffectiveMethod(), req.URL, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}

	resp, err := f.FetchWithRetry(ctx, httpReq)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	limit := f.cfg.MaxPageSizeBytes
	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, req.URL, err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds max page size of %d bytes", utils.ErrResponseBodyRead, req.URL, limit)
	}

	return &models.Response{
		Request: req,
		URL:     resp.Request.URL.String(),
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    body,
	}, nil
}

// FetchWithRetry performs req with exponential backoff and jitter.
// On a non-retryable 4xx/other status the response is returned together
// with the error and the caller must close its body.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		}

		if attempt > 0 {
			category := utils.CategorizeError(lastErr)
			f.inc(stats.FetchRetryCount)
			f.inc(stats.FetchRetryReasonCount + category)

			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay, "reason": category}).Warn("Retrying request...")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		// Each attempt needs a fresh body reader
		attemptReq := req.WithContext(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%w: rewinding body: %w", utils.ErrRequestCreation, err)
			}
			attemptReq.Body = body
		}

		currentResp, lastErr = f.client.Do(attemptReq)
		if lastErr != nil {
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	f.inc(stats.FetchRetryMaxReached)
	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff returns initial * 2^(attempt-1) capped at max_retry_delay, with +/-10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	maxDelay := f.cfg.MaxRetryDelay
	delay := time.Duration(float64(f.cfg.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange)) - delay/10
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (f *Fetcher) inc(name string) {
	if f.stats != nil {
		f.stats.Inc(name)
	}
}
