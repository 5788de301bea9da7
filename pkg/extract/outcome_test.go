package extract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

func TestRetry(t *testing.T) {
	err := Retry("missing_price")
	assert.True(t, errors.Is(err, ErrRetry))
	assert.Contains(t, err.Error(), "missing_price")

	var retryErr *RetryError
	require.True(t, errors.As(Retry(""), &retryErr))
	assert.Equal(t, DefaultRetryReason, retryErr.Reason)
}

func TestFromResult(t *testing.T) {
	t.Run("item", func(t *testing.T) {
		out, err := FromResult(map[string]string{"foo": "bar"}, nil)
		require.NoError(t, err)
		assert.Equal(t, KindItem, out.Kind())
		assert.Equal(t, map[string]string{"foo": "bar"}, out.Item())
		assert.NoError(t, out.Validate())
	})

	t.Run("retry signal", func(t *testing.T) {
		out, err := FromResult(nil, Retry("incomplete"))
		require.NoError(t, err)
		assert.Equal(t, KindRetry, out.Kind())
		assert.Equal(t, "incomplete", out.Reason())
	})

	t.Run("wrapped retry signal", func(t *testing.T) {
		out, err := FromResult(nil, fmt.Errorf("price block: %w", Retry("no_price")))
		require.NoError(t, err)
		assert.Equal(t, "no_price", out.Reason())
	})

	t.Run("bare ErrRetry uses default reason", func(t *testing.T) {
		out, err := FromResult(nil, ErrRetry)
		require.NoError(t, err)
		assert.Equal(t, DefaultRetryReason, out.Reason())
	})

	t.Run("other error is an extraction failure", func(t *testing.T) {
		_, err := FromResult(nil, errors.New("boom"))
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrExtraction)
		assert.NotErrorIs(t, err, ErrMalformedOutcome)
	})

	t.Run("nil item and nil error is malformed", func(t *testing.T) {
		_, err := FromResult(nil, nil)
		assert.ErrorIs(t, err, ErrMalformedOutcome)
	})
}

func TestOutcome_Validate(t *testing.T) {
	assert.ErrorIs(t, Outcome{}.Validate(), ErrMalformedOutcome)
	assert.ErrorIs(t, Outcome{kind: KindItem}.Validate(), ErrMalformedOutcome)
	assert.NoError(t, RetryOutcome("").Validate())
	assert.Equal(t, DefaultRetryReason, RetryOutcome("").Reason())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "item", KindItem.String())
	assert.Equal(t, "retry", KindRetry.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
