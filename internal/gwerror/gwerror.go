// Package gwerror is the gateway's single error taxonomy. Every
// layer (translators, the upstream client, the account pool, the API
// handlers) wraps failures in one Error type so each public dialect adapter
// renders the same underlying fault in its own envelope instead of
// reimplementing the taxonomy per handler.
package gwerror

import (
	"fmt"
	"net/http"
)

// Kind tags the category of failure.
type Kind string

const (
	KindRateLimit   Kind = "rate_limit"
	KindAuth        Kind = "auth"
	KindUpstream    Kind = "upstream"
	KindTranslation Kind = "translation"
	KindTransport   Kind = "transport"
	KindEmpty       Kind = "empty"
)

// Error is the gateway's single error type. Message is safe to surface to
// the client as-is; Cause, if present, is logged but never rendered.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps Kind to the status code every dialect adapter returns.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuth:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	case KindTranslation:
		return http.StatusBadRequest
	case KindTransport:
		return http.StatusBadGateway
	case KindEmpty:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// RateLimit builds a KindRateLimit error.
func RateLimit(message string) *Error { return New(KindRateLimit, message) }

// Auth builds a KindAuth error.
func Auth(message string) *Error { return New(KindAuth, message) }

// Upstream builds a KindUpstream error wrapping cause.
func Upstream(message string, cause error) *Error { return Wrap(KindUpstream, message, cause) }

// Translation builds a KindTranslation error wrapping cause.
func Translation(message string, cause error) *Error { return Wrap(KindTranslation, message, cause) }

// Transport builds a KindTransport error wrapping cause.
func Transport(message string, cause error) *Error { return Wrap(KindTransport, message, cause) }

// Empty builds a KindEmpty error: an upstream response with no usable
// content, the trigger for the peek-and-retry policy in internal/upstream.
func Empty(message string) *Error { return New(KindEmpty, message) }

// RenderOpenAI renders e in the OpenAI error envelope shape.
func (e *Error) RenderOpenAI() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    string(e.Kind),
			"code":    e.HTTPStatus(),
		},
	}
}

// RenderAnthropic renders e in the Anthropic error envelope shape.
func (e *Error) RenderAnthropic() map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    anthropicErrorType(e.Kind),
			"message": e.Message,
		},
	}
}

// RenderGoogle renders e in the Google generative-content error envelope shape.
func (e *Error) RenderGoogle() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.HTTPStatus(),
			"message": e.Message,
			"status":  googleStatus(e.Kind),
		},
	}
}

func anthropicErrorType(k Kind) string {
	switch k {
	case KindRateLimit:
		return "rate_limit_error"
	case KindAuth:
		return "authentication_error"
	case KindTranslation:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func googleStatus(k Kind) string {
	switch k {
	case KindRateLimit:
		return "RESOURCE_EXHAUSTED"
	case KindAuth:
		return "UNAUTHENTICATED"
	case KindTranslation:
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}
