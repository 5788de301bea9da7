// Package extract defines the result of running a page object: either an
// item or a request to retry the fetch.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// DefaultRetryReason is recorded when a page object asks for a retry without naming a reason
const DefaultRetryReason = "page_object_retry"

// ErrMalformedOutcome reports an outcome that is neither an item nor a retry signal
var ErrMalformedOutcome = utils.ErrMalformedOutcome

// ErrRetry matches every retry signal with errors.Is
var ErrRetry = errors.New("page object requested retry")

// RetryError is the signal a page object returns when the fetched page is
// incomplete and the request should be downloaded again.
type RetryError struct {
	Reason string
}

// Retry builds a retry signal. An empty reason becomes DefaultRetryReason.
func Retry(reason string) error {
	if reason == "" {
		reason = DefaultRetryReason
	}
	return &RetryError{Reason: reason}
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrRetry.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrRetry) true for any RetryError
func (e *RetryError) Is(target error) bool {
	return target == ErrRetry
}

// Kind tags an Outcome
type Kind int

const (
	KindUnknown Kind = iota // Zero value, malformed
	KindItem
	KindRetry
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindRetry:
		return "retry"
	}
	return "unknown"
}

// Outcome is the immutable result of one extraction: Item(payload) or RetrySignal(reason).
type Outcome struct {
	kind   Kind
	item   any
	reason string
}

// ItemOutcome wraps a produced item
func ItemOutcome(item any) Outcome {
	return Outcome{kind: KindItem, item: item}
}

// RetryOutcome wraps a retry signal
func RetryOutcome(reason string) Outcome {
	if reason == "" {
		reason = DefaultRetryReason
	}
	return Outcome{kind: KindRetry, reason: reason}
}

// Kind returns the variant tag
func (o Outcome) Kind() Kind { return o.kind }

// Item returns the payload of an Item outcome
func (o Outcome) Item() any { return o.item }

// Reason returns the reason of a RetrySignal outcome
func (o Outcome) Reason() string { return o.reason }

// Validate fails for outcomes built outside ItemOutcome/RetryOutcome
func (o Outcome) Validate() error {
	switch o.kind {
	case KindItem:
		if o.item == nil {
			return fmt.Errorf("%w: item outcome without payload", ErrMalformedOutcome)
		}
		return nil
	case KindRetry:
		return nil
	}
	return ErrMalformedOutcome
}

// FromResult maps the return values of a page object's ToItem to an Outcome.
// A retry signal becomes RetrySignal; any other error is returned wrapped in
// utils.ErrExtraction; a nil item with a nil error is malformed.
func FromResult(item any, err error) (Outcome, error) {
	if err != nil {
		var retryErr *RetryError
		if errors.As(err, &retryErr) {
			return RetryOutcome(retryErr.Reason), nil
		}
		if errors.Is(err, ErrRetry) {
			return RetryOutcome(DefaultRetryReason), nil
		}
		return Outcome{}, fmt.Errorf("%w: %w", utils.ErrExtraction, err)
	}
	if item == nil {
		return Outcome{}, fmt.Errorf("%w: page object returned neither item nor error", ErrMalformedOutcome)
	}
	return ItemOutcome(item), nil
}

// Extractor runs the extraction for one response. The host wraps the page
// object's result with FromResult before handing it to the retry layer.
type Extractor func(ctx context.Context, resp *models.Response) (Outcome, error)
