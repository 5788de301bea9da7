// Package retry turns extraction outcomes into item deliveries, re-issued
// requests or terminal drops, and keeps the retry statistics.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/extract"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
)

// DefaultMaxRetries is the extraction retry budget when none is configured
const DefaultMaxRetries = 2

// ErrInvalidRequest is returned for a nil request or a negative retry count
var ErrInvalidRequest = errors.New("invalid request for retry handling")

// Action tags a Decision
type Action int

const (
	ActionDeliver Action = iota + 1
	ActionReIssue
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionDeliver:
		return "deliver"
	case ActionReIssue:
		return "reissue"
	case ActionDrop:
		return "drop"
	}
	return "unknown"
}

// Decision is one of Deliver(item), ReIssue(request) or Drop(reason)
type Decision struct {
	Action  Action
	Item    any             // Set for ActionDeliver
	Request *models.Request // Set for ActionReIssue
	Reason  string          // Set for ActionReIssue and ActionDrop
}

// Coordinator decides what happens to an extraction outcome. It is the only
// place that clones a request for a retry and the only writer of the
// retry/* counters.
type Coordinator struct {
	maxRetries int
	stats      *stats.Recorder
	log        *logrus.Entry
}

// NewCoordinator creates a coordinator with the given default budget.
// A negative maxRetries is treated as zero.
func NewCoordinator(maxRetries int, rec *stats.Recorder, log *logrus.Entry) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{
		maxRetries: maxRetries,
		stats:      rec,
		log:        log.WithField("component", "retry_coordinator"),
	}
}

// MaxRetries returns the default retry budget
func (c *Coordinator) MaxRetries() int {
	return c.maxRetries
}

// maxRetriesFor applies the per-request max_retry_times meta override.
// A negative override is treated as zero.
func (c *Coordinator) maxRetriesFor(req *models.Request) int {
	v, ok := req.MetaInt(models.MetaMaxRetryTimes)
	if !ok {
		return c.maxRetries
	}
	return max(v, 0)
}

// Handle maps an outcome for req to a Decision. Retry and exhaustion are
// returned as decisions; errors are reserved for malformed input.
// Calling Handle twice with the same arguments yields equal decisions but
// counts the statistics twice.
func (c *Coordinator) Handle(outcome extract.Outcome, req *models.Request) (Decision, error) {
	if req == nil || req.RetryCount < 0 {
		return Decision{}, ErrInvalidRequest
	}
	if err := outcome.Validate(); err != nil {
		return Decision{}, err
	}

	if outcome.Kind() == extract.KindItem {
		return Decision{Action: ActionDeliver, Item: outcome.Item()}, nil
	}

	reason := outcome.Reason()
	maxRetries := c.maxRetriesFor(req)
	reqLog := c.log.WithFields(logrus.Fields{
		"url":         req.URL,
		"retry_count": req.RetryCount,
		"max_retries": maxRetries,
		"reason":      reason,
	})

	if Decide(req.RetryCount, maxRetries) == Exceeded {
		c.stats.Inc(stats.RetryMaxReached)
		reqLog.Errorf("Gave up retrying %s %s (failed %d times): %s",
			req.EffectiveMethod(), req.URL, req.RetryCount+1, reason)
		return Decision{Action: ActionDrop, Reason: reason}, nil
	}

	clone := req.Clone()
	clone.RetryCount = req.RetryCount + 1
	clone.DontFilter = true
	if clone.Meta == nil {
		clone.Meta = make(map[string]any, 1)
	}
	clone.Meta[models.MetaRetryReason] = reason

	c.stats.Inc(stats.RetryRequestsIssued)
	c.stats.Inc(stats.RetryCount)
	c.stats.Inc(stats.RetryReasonKey(reason))
	reqLog.Debugf("Retrying %s %s (failed %d times): %s",
		req.EffectiveMethod(), req.URL, clone.RetryCount, reason)

	return Decision{Action: ActionReIssue, Request: clone, Reason: reason}, nil
}

// Callback adapts a page-object extractor into an engine callback.
// Deliver yields an item output, ReIssue a request output and Drop a
// DropReason output; malformed outcomes and extraction errors are returned.
func (c *Coordinator) Callback(extractor extract.Extractor) models.Callback {
	return func(ctx context.Context, resp *models.Response) ([]models.Output, error) {
		if resp == nil || resp.Request == nil {
			return nil, fmt.Errorf("%w: response has no originating request", ErrInvalidRequest)
		}
		outcome, err := extractor(ctx, resp)
		if err != nil {
			return nil, err
		}
		decision, err := c.Handle(outcome, resp.Request)
		if err != nil {
			return nil, fmt.Errorf("handling outcome for %s: %w", resp.Request.URL, err)
		}
		switch decision.Action {
		case ActionDeliver:
			return []models.Output{{Item: decision.Item}}, nil
		case ActionReIssue:
			return []models.Output{{Request: decision.Request}}, nil
		default:
			return []models.Output{{DropReason: decision.Reason}}, nil
		}
	}
}
