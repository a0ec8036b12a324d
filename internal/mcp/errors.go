// Package mcp exposes the query service over the Model Context
// Protocol, so AI clients can retrieve passages from indexed
// collections as tool calls.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// Custom MCP error codes for ragon.
const (
	// ErrCodeSourceNotFound indicates the named collection or source
	// does not exist.
	ErrCodeSourceNotFound = -32001

	// ErrCodeEmbeddingFailed indicates query embedding failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeShardFailure indicates a multi-shard call had no
	// surviving shard.
	ErrCodeShardFailure = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-params error with a custom
// message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts internal errors to MCP errors so clients see a
// stable code space instead of Go error strings.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var re *ragonerr.RagonError
	if errors.As(err, &re) {
		return mapRagonError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapRagonError(re *ragonerr.RagonError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}

	switch re.Category {
	case ragonerr.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}

	case ragonerr.CategoryStorage:
		if re.Code == ragonerr.ErrCodeSourceUnavailable {
			return &MCPError{Code: ErrCodeSourceNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}

	case ragonerr.CategoryCache:
		if re.Code == ragonerr.ErrCodeNotResident {
			return &MCPError{Code: ErrCodeSourceNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}

	case ragonerr.CategoryShard:
		if re.Code == ragonerr.ErrCodeShardTimeout {
			return &MCPError{Code: ErrCodeTimeout, Message: message}
		}
		return &MCPError{Code: ErrCodeShardFailure, Message: message}

	case ragonerr.CategoryEmbedding:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}

	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
