// Package services defines the business logic of the chat platform: accounts,
// conversations and the message send transaction, reports and refunds, the
// admin audit trail, the catalog, site settings and the spiritual gift.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Input errors.
var (
	// ErrInvalidInput wraps every validation failure; the wrapped message is
	// safe to show to the caller.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyMessage is returned when a send carries no text.
	ErrEmptyMessage = errors.New("message content required")

	// ErrMessageTooLong is returned when a send exceeds the configured rune cap.
	ErrMessageTooLong = errors.New("message too long")

	// ErrMarjaRequired is returned when a first send names no marja.
	ErrMarjaRequired = errors.New("marja is required for a new conversation")
)

// Account errors.
var (
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserBlocked        = errors.New("account is blocked")
	ErrUserNotFound       = errors.New("user not found")
)

// Conversation, message and report errors.
var (
	// ErrConversationNotFound indicates that the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrForbidden is returned when the caller may not touch the resource.
	ErrForbidden = errors.New("access denied")

	// ErrInsufficientTokens is returned when a strict debit finds a zero
	// balance. Nothing has been written when it is returned.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrUpstream wraps failures of the AI responder.
	ErrUpstream = errors.New("ai responder failed")

	ErrReportNotFound = errors.New("report not found")

	// ErrRefundIrreversible is returned when an update tries to clear the
	// refunded flag.
	ErrRefundIrreversible = errors.New("a refunded report cannot be un-refunded")
)

// Spiritual gift errors.
var (
	ErrGiftDisabled   = errors.New("spiritual gift is disabled")
	ErrGiftCooldown   = errors.New("spiritual gift is cooling down")
	ErrGiftDailyLimit = errors.New("spiritual gift daily limit reached")
)

// invalid builds an ErrInvalidInput carrying a caller-facing reason.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RetryError carries how long a rate-limited caller should wait. It
// matches its Kind with errors.Is.
type RetryError struct {
	Kind       error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Kind, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is the wrapped kind.
func (e *RetryError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the kind.
func (e *RetryError) Unwrap() error { return e.Kind }
