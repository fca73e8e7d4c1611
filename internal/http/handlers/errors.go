// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and give clients a stable, machine-readable
// taxonomy next to the human-readable message. Generic codes mirror HTTP
// status semantics; domain codes (insufficient_tokens, gift_disabled, ...)
// carry what the status alone cannot.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "insufficient_tokens",
//	  "message": "Not enough tokens."
//	}
package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/marja-chat-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeTimeout          = "timeout"

	// Domain-specific:
	ErrCodeEmailTaken         = "email_taken"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUserBlocked        = "user_blocked"
	ErrCodeInsufficientTokens = "insufficient_tokens"
	ErrCodeUpstream           = "upstream_error"
	ErrCodeGiftDisabled       = "gift_disabled"
)

// apiError is the HTTP rendering of a service error.
type apiError struct {
	status  int
	code    string
	message string
}

// classify maps a service error to status, code and message. Messages of
// unexpected errors are not exposed.
func classify(err error) apiError {
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		return apiError{http.StatusBadRequest, ErrCodeBadRequest, "Message content required."}
	case errors.Is(err, services.ErrMessageTooLong):
		return apiError{http.StatusBadRequest, ErrCodeBadRequest, "Message is too long."}
	case errors.Is(err, services.ErrMarjaRequired):
		return apiError{http.StatusBadRequest, ErrCodeBadRequest, "A marja is required to start a conversation."}
	case errors.Is(err, services.ErrInvalidInput):
		return apiError{http.StatusBadRequest, ErrCodeBadRequest, err.Error()}
	case errors.Is(err, services.ErrEmailTaken):
		return apiError{http.StatusBadRequest, ErrCodeEmailTaken, "Email is already registered."}
	case errors.Is(err, services.ErrInvalidCredentials):
		return apiError{http.StatusBadRequest, ErrCodeInvalidCredentials, "Invalid email or password."}
	case errors.Is(err, services.ErrUserBlocked):
		return apiError{http.StatusForbidden, ErrCodeUserBlocked, "Your account has been blocked."}
	case errors.Is(err, services.ErrForbidden):
		return apiError{http.StatusForbidden, ErrCodeForbidden, "Access denied"}
	case errors.Is(err, services.ErrUserNotFound):
		return apiError{http.StatusNotFound, ErrCodeNotFound, "User not found."}
	case errors.Is(err, services.ErrConversationNotFound):
		return apiError{http.StatusNotFound, ErrCodeNotFound, "Conversation not found."}
	case errors.Is(err, services.ErrReportNotFound):
		return apiError{http.StatusNotFound, ErrCodeNotFound, "Report not found."}
	case errors.Is(err, services.ErrInsufficientTokens):
		return apiError{http.StatusPaymentRequired, ErrCodeInsufficientTokens, "Not enough tokens."}
	case errors.Is(err, services.ErrRefundIrreversible):
		return apiError{http.StatusConflict, ErrCodeConflict, "A refunded report cannot be un-refunded."}
	case errors.Is(err, services.ErrGiftDisabled):
		return apiError{http.StatusForbidden, ErrCodeGiftDisabled, "The spiritual gift is disabled."}
	case errors.Is(err, services.ErrGiftCooldown):
		return apiError{http.StatusTooManyRequests, ErrCodeRateLimited, "Please wait before claiming again."}
	case errors.Is(err, services.ErrGiftDailyLimit):
		return apiError{http.StatusTooManyRequests, ErrCodeRateLimited, "Daily gift limit reached."}
	case errors.Is(err, services.ErrUpstream):
		return apiError{http.StatusBadGateway, ErrCodeUpstream, "The assistant is unavailable. Please try again."}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out"}
	default:
		return apiError{http.StatusInternalServerError, ErrCodeInternal, "internal server error"}
	}
}

// failErr writes the envelope for a service error. Unexpected errors are
// logged with their cause; throttled ones carry Retry-After.
func failErr(c *gin.Context, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	var re *services.RetryError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(re.RetryAfter.Seconds()))))
	}
	fail(c, e.status, e.code, e.message)
}
