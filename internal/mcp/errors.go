package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/bridge"
	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/store"
)

// JSON-RPC error codes. The -32700..-32603 range is standard JSON-RPC;
// the rest are server-assigned: -320xx for auth, session and execution
// failures, -324xx mirroring the matching HTTP status.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeToolExecution      = -32000
	CodeUnauthorized       = -32001
	CodeTokenExpired       = -32002
	CodeTenantInvalid      = -32003
	CodeNotInitialized     = -32004
	CodeUnsupportedVersion = -32005
	CodeTimeout            = -32006
	CodeRateLimited        = -32029

	CodeScopeDenied        = -32403
	CodeCredentialNotFound = -32404
)

// errorCode maps an error to its JSON-RPC code. Sentinel checks run
// in one place so transports and the engine always agree.
func errorCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, auth.ErrTenantInvalid), errors.Is(err, store.ErrTenantNotFound):
		return CodeTenantInvalid
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotFound):
		return CodeUnauthorized
	case errors.Is(err, registry.ErrScopeDenied):
		return CodeScopeDenied
	case errors.Is(err, registry.ErrInvalidArguments):
		return CodeInvalidParams
	case errors.Is(err, registry.ErrNotFound):
		return CodeMethodNotFound
	case errors.Is(err, store.ErrCredentialNotFound):
		return CodeCredentialNotFound
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, bridge.ErrPanic):
		return CodeInternalError
	case errors.Is(err, ErrSessionLimit):
		return CodeRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return CodeNotInitialized
	default:
		return CodeToolExecution
	}
}

// rpcError converts an error into a client-facing JSON-RPC error with
// a sanitized message.
func rpcError(err error, operation string) *JSONRPCError {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &JSONRPCError{
		Code:    errorCode(err),
		Message: SanitizeError(err, operation).Error(),
	}
}

// sensitivePatterns contains substrings that indicate sensitive error details
var sensitivePatterns = []string{
	"MASTER_KEY",
	"API_KEY",
	"api_key",
	"password",
	"secret",
	"ciphertext",
	"decrypt",
	"dsn",
}

// internalErrorPatterns contains substrings that indicate internal errors
var internalErrorPatterns = []string{
	"connection refused",
	"no such file",
	"permission denied",
	"context canceled",
	"sql",
	"database",
	"EOF",
}

// SanitizeError returns a client-safe error message.
// Internal details are logged but not exposed to clients.
func SanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	// Check for sensitive information
	for _, pattern := range sensitivePatterns {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(pattern)) {
			logger.Slog().Error("operation failed with sensitive detail", "operation", operation, "error", errStr)
			return fmt.Errorf("%s failed: internal configuration error", operation)
		}
	}

	// Check for internal error patterns
	for _, pattern := range internalErrorPatterns {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(pattern)) {
			logger.Slog().Error("operation failed internally", "operation", operation, "error", errStr)
			return fmt.Errorf("%s failed: internal error", operation)
		}
	}

	// For other errors, still log the full error but return a generic message
	// unless it looks like a user-facing error (validation, not found, etc.)
	if isUserFacingError(errStr) {
		return err
	}

	logger.Slog().Error("operation failed", "operation", operation, "error", errStr)
	return fmt.Errorf("%s failed: %s", operation, genericErrorMessage(errStr))
}

// isUserFacingError returns true if the error message is safe to show to users
func isUserFacingError(errStr string) bool {
	userFacingPatterns := []string{
		"not found",
		"already exists",
		"invalid",
		"required",
		"must be",
		"cannot be",
		"is not",
		"exceeded",
		"limit",
		"denied",
		"expired",
		"timed out",
		"unsupported",
	}

	lower := strings.ToLower(errStr)
	for _, pattern := range userFacingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// genericErrorMessage extracts a safe portion of the error or returns generic text
func genericErrorMessage(errStr string) string {
	// If it's short and doesn't contain sensitive info, it's probably safe
	if len(errStr) < 50 {
		return errStr
	}
	return "an unexpected error occurred"
}
