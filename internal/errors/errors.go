package errors

import (
	"errors"
	"fmt"
)

// RagonError is the structured error type for ragon.
// It provides rich context for error handling, logging, and transport mapping.
type RagonError struct {
	// Code is the unique error code (e.g., "ERR_201_SOURCE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Storage, Shard, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *RagonError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RagonError) Unwrap() error {
	return e.Cause
}

// Is matches RagonErrors by code so errors.Is works across instances.
func (e *RagonError) Is(target error) bool {
	if t, ok := target.(*RagonError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RagonError) WithDetail(key, value string) *RagonError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
// Returns the error for method chaining.
func (e *RagonError) WithSuggestion(suggestion string) *RagonError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RagonError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RagonError {
	return &RagonError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagonError from an existing error.
// The error's message becomes the RagonError message.
func Wrap(code string, err error) *RagonError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// SourceUnavailable reports a missing or unreadable source path.
func SourceUnavailable(path string, cause error) *RagonError {
	return New(ErrCodeSourceUnavailable, fmt.Sprintf("source unavailable: %s", path), cause).
		WithDetail("path", path)
}

// IndexCorrupt reports an on-disk index that failed to load.
func IndexCorrupt(dir string, cause error) *RagonError {
	return New(ErrCodeIndexCorrupt, fmt.Sprintf("index corrupt at %s", dir), cause).
		WithDetail("dir", dir).
		WithSuggestion("rebuild the index or issue a cache reload")
}

// StaleCache reports a resident entry whose fingerprint set no longer
// matches the source directory. Warning-grade; serving continues.
func StaleCache(path string, added, removed int) *RagonError {
	return New(ErrCodeStaleCache,
		fmt.Sprintf("resident index for %s is stale (%d added, %d removed)", path, added, removed), nil).
		WithDetail("path", path).
		WithSuggestion("POST /cache/reload to rebuild")
}

// EmbeddingFailure reports a failed embedding model call.
func EmbeddingFailure(cause error) *RagonError {
	return Wrap(ErrCodeEmbeddingFailed, cause)
}

// ShardTimeout reports a shard that exceeded its per-shard deadline.
func ShardTimeout(fingerprint string, cause error) *RagonError {
	return New(ErrCodeShardTimeout, fmt.Sprintf("shard %s timed out", fingerprint), cause).
		WithDetail("fingerprint", fingerprint)
}

// ShardFailure reports any non-timeout shard error.
func ShardFailure(fingerprint string, cause error) *RagonError {
	return New(ErrCodeShardFailed, fmt.Sprintf("shard %s failed", fingerprint), cause).
		WithDetail("fingerprint", fingerprint)
}

// AllShardsFailed builds the composite error for a fan-out where zero
// shards succeeded. The per-shard causes are joined and retrievable via
// errors.Is/As on the chain.
func AllShardsFailed(causes ...error) *RagonError {
	return New(ErrCodeAllShardsFailed,
		fmt.Sprintf("all %d shards failed", len(causes)), errors.Join(causes...))
}

// ValidationError creates a request-validation error.
func ValidationError(message string, cause error) *RagonError {
	return New(ErrCodeInvalidRequest, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RagonError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var re *RagonError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from a RagonError anywhere in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var re *RagonError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RagonError anywhere in the chain.
func GetCategory(err error) Category {
	var re *RagonError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
