// Package apierror is the gateway's error taxonomy and its mapping to HTTP
// responses. Handlers return plain errors; this package decides what the
// client sees.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypeAuthentication Type = "authentication_error"
	TypePermission     Type = "permission_error"
	TypeNotFound       Type = "not_found_error"
	TypeConflict       Type = "conflict_error"
	TypeRateLimit      Type = "rate_limit_error"
	TypeOverloaded     Type = "overloaded_error"
	TypeUpstream       Type = "upstream_error"
	TypeAPI            Type = "api_error"
)

// Error is the canonical gateway error. It is safe to show to clients;
// anything not deliberately constructed as an *Error renders as a generic
// internal error so upstream details never leak.
type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Param     string `json:"param,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

func InvalidRequest(message, param string) *Error {
	return &Error{Type: TypeInvalidRequest, Message: message, Param: param}
}

func Unauthorized(message string) *Error {
	return &Error{Type: TypeAuthentication, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Type: TypeConflict, Message: message}
}

func Upstream(message, code string) *Error {
	return &Error{Type: TypeUpstream, Message: message, Code: code}
}

// FromError converts any error into a client-facing Error plus HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      TypeAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      TypeAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}

	// Unknown errors: internal, no detail leakage.
	return &Error{
		Type:      TypeAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t Type) int {
	switch t {
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypePermission:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeOverloaded:
		return 529
	case TypeUpstream:
		return http.StatusBadGateway
	case TypeAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
