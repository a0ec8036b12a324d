// Package errors provides structured error handling for ragon.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Request validation errors
//   - 2XX: Source and store I/O errors
//   - 3XX: Cache errors
//   - 4XX: Shard/engine errors
//   - 5XX: Embedding errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates request or config validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStorage indicates source file and index store I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCache indicates resident-cache errors.
	CategoryCache Category = "CACHE"
	// CategoryShard indicates multi-shard engine errors.
	CategoryShard Category = "SHARD"
	// CategoryEmbedding indicates embedding model errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Validation errors (100-199)
	ErrCodeInvalidRequest = "ERR_101_INVALID_REQUEST"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeTooManyQueries = "ERR_103_TOO_MANY_QUERIES"

	// Source and store errors (200-299)
	ErrCodeSourceUnavailable = "ERR_201_SOURCE_UNAVAILABLE"
	ErrCodeStoreWrite        = "ERR_202_STORE_WRITE"
	ErrCodeManifestInvalid   = "ERR_204_MANIFEST_INVALID"
	ErrCodeIndexCorrupt      = "ERR_205_INDEX_CORRUPT"
	ErrCodeModelMismatch     = "ERR_206_MODEL_MISMATCH"

	// Cache errors (300-399)
	ErrCodeStaleCache  = "ERR_301_STALE_CACHE"
	ErrCodeNotResident = "ERR_302_NOT_RESIDENT"

	// Shard errors (400-499)
	ErrCodeShardTimeout    = "ERR_401_SHARD_TIMEOUT"
	ErrCodeShardFailed     = "ERR_402_SHARD_FAILED"
	ErrCodeAllShardsFailed = "ERR_403_ALL_SHARDS_FAILED"

	// Embedding errors (500-599)
	ErrCodeEmbedderUnavailable = "ERR_501_EMBEDDER_UNAVAILABLE"
	ErrCodeEmbeddingFailed     = "ERR_502_EMBEDDING_FAILED"
	ErrCodeDimensionMismatch   = "ERR_503_DIMENSION_MISMATCH"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_SOURCE_UNAVAILABLE".
	switch code[4] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCache
	case '4':
		return CategoryShard
	case '5':
		return CategoryEmbedding
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStaleCache:
		// Stale entries keep serving; reload is the remedy.
		return SeverityWarning
	case ErrCodeAllShardsFailed, ErrCodeIndexCorrupt:
		return SeverityError
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedderUnavailable, ErrCodeShardTimeout:
		return true
	default:
		return false
	}
}
