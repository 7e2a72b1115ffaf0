package errors

import (
	"errors"
	"fmt"

	"github.com/walletgate/walletgate/pkg/types"
)

// RPCError is an application-level error delivered to the calling page inside
// the response envelope's error field. It is never thrown across the channel
// boundary.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Body converts the error into its wire shape.
func (e *RPCError) Body() *types.RPCErrorBody {
	return &types.RPCErrorBody{Code: e.Code, Message: e.Message, Detail: e.Detail}
}

// Common error codes
const (
	ErrCodeInvalidOrigin      = "invalid_origin"
	ErrCodeNotConnected       = "not_connected"
	ErrCodeNoWalletSelected   = "no_wallet_selected"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeUserRejected       = "user_rejected"
	ErrCodeLocked             = "locked"
	ErrCodeUnknownMethod      = "unknown_method"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeRequestTimeout     = "request_timeout"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternalError      = "internal_error"
)

// Predefined errors
var (
	ErrInvalidOrigin = &RPCError{
		Code:    ErrCodeInvalidOrigin,
		Message: "Request has no origin",
	}

	ErrNotConnected = &RPCError{
		Code:    ErrCodeNotConnected,
		Message: "Not connected",
	}

	ErrNoWalletSelected = &RPCError{
		Code:    ErrCodeNoWalletSelected,
		Message: "No wallet selected for this chain family",
	}

	ErrUserRejected = &RPCError{
		Code:    ErrCodeUserRejected,
		Message: "User rejected the request",
	}

	ErrLocked = &RPCError{
		Code:    ErrCodeLocked,
		Message: "Keyring is locked",
	}

	ErrRequestTimeout = &RPCError{
		Code:    ErrCodeRequestTimeout,
		Message: "No response within the configured timeout",
	}

	ErrRateLimited = &RPCError{
		Code:    ErrCodeRateLimited,
		Message: "Too many requests",
	}

	ErrInternalError = &RPCError{
		Code:    ErrCodeInternalError,
		Message: "Internal error",
	}
)

// New creates a new RPCError
func New(code, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewWithDetail creates a new RPCError with additional detail
func NewWithDetail(code, message, detail string) *RPCError {
	return &RPCError{Code: code, Message: message, Detail: detail}
}

// UnknownMethod creates an unknown method error
func UnknownMethod(method string) *RPCError {
	return &RPCError{
		Code:    ErrCodeUnknownMethod,
		Message: "No handler for method",
		Detail:  fmt.Sprintf("method: %s", method),
	}
}

// UnsupportedNetwork creates an unsupported network error
func UnsupportedNetwork(chainID int64) *RPCError {
	return &RPCError{
		Code:    ErrCodeUnsupportedNetwork,
		Message: "Target chain is not supported",
		Detail:  fmt.Sprintf("chain_id: %d", chainID),
	}
}

// BadRequest creates a bad request error with detail
func BadRequest(detail string) *RPCError {
	return &RPCError{
		Code:    ErrCodeBadRequest,
		Message: "Invalid request parameters",
		Detail:  detail,
	}
}

// IsRPCError checks if an error is an RPCError
func IsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// FromCode maps a wire error code reported by a UI surface back to a
// predefined error. An empty code means a plain user rejection; unknown codes
// map to ErrInternalError.
func FromCode(code string) *RPCError {
	switch code {
	case ErrCodeUserRejected, "":
		return ErrUserRejected
	case ErrCodeLocked:
		return ErrLocked
	case ErrCodeNoWalletSelected:
		return ErrNoWalletSelected
	case ErrCodeNotConnected:
		return ErrNotConnected
	default:
		return ErrInternalError
	}
}
