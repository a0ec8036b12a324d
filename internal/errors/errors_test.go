package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassification(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{ErrCodeInvalidRequest, CategoryValidation, SeverityError, false},
		{ErrCodeSourceUnavailable, CategoryStorage, SeverityError, false},
		{ErrCodeStaleCache, CategoryCache, SeverityWarning, false},
		{ErrCodeShardTimeout, CategoryShard, SeverityWarning, true},
		{ErrCodeEmbedderUnavailable, CategoryEmbedding, SeverityWarning, true},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("disk on fire")
	err := IndexCorrupt("/tmp/idx", cause)

	assert.Equal(t, ErrCodeIndexCorrupt, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "/tmp/idx", err.Details["dir"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeShardTimeout, "shard 1", nil)
	b := New(ErrCodeShardTimeout, "shard 2", nil)
	c := New(ErrCodeShardFailed, "shard 3", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := SourceUnavailable("/books", nil)
	wrapped := fmt.Errorf("loading: %w", inner)

	assert.Equal(t, ErrCodeSourceUnavailable, GetCode(wrapped))
	assert.Equal(t, CategoryStorage, GetCategory(wrapped))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestAllShardsFailedJoinsCauses(t *testing.T) {
	t1 := ShardTimeout("aaaa", nil)
	f1 := ShardFailure("bbbb", errors.New("io"))

	composite := AllShardsFailed(t1, f1)
	assert.Equal(t, ErrCodeAllShardsFailed, composite.Code)
	assert.ErrorIs(t, composite, t1)
	assert.ErrorIs(t, composite, f1)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return New(ErrCodeInvalidRequest, "bad", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryEventuallySucceeds(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return New(ErrCodeEmbedderUnavailable, "warming up", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(ErrCodeEmbedderUnavailable, "nope", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatForUser(t *testing.T) {
	err := StaleCache("/books", 2, 1)
	out := FormatForUser(err, false)

	assert.Contains(t, out, "stale")
	assert.Contains(t, out, "Suggestion:")
	assert.Contains(t, out, ErrCodeStaleCache)

	assert.Equal(t, "plain", FormatForUser(errors.New("plain"), false))
	assert.Equal(t, "", FormatForUser(nil, false))
}
