package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the error type shared by the dispatch engine and its HTTP surface.
// Two AppErrors are considered equal by errors.Is when their codes match.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy carrying err as its cause.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy with a more specific message.
func (e *AppError) WithMessage(msg string) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Message = msg
	return &cpy
}

// Code prefixes group errors into the families callers branch on.
const (
	familyValidation = "validation."
	familyChannel    = "channel."
	familyLifecycle  = "lifecycle."
)

var (
	ErrValidation = &AppError{
		Code:       "validation.invalid_input",
		Message:    "Invalid notification request",
		StatusCode: http.StatusBadRequest,
	}
	ErrTemplateNotFound = &AppError{
		Code:       "validation.template_not_found",
		Message:    "Notification template not found or inactive",
		StatusCode: http.StatusNotFound,
	}
	ErrInvalidRecipient = &AppError{
		Code:       "validation.invalid_recipient",
		Message:    "Recipient is not valid for the template channel",
		StatusCode: http.StatusUnprocessableEntity,
	}
	ErrTemplateExists = &AppError{
		Code:       "validation.template_exists",
		Message:    "A template with this name already exists",
		StatusCode: http.StatusConflict,
	}

	ErrUnknownChannel = &AppError{
		Code:       "channel.unknown",
		Message:    "Unknown notification channel",
		StatusCode: http.StatusUnprocessableEntity,
	}
	ErrChannelMisconfigured = &AppError{
		Code:       "channel.misconfigured",
		Message:    "Notification channel is not configured",
		StatusCode: http.StatusServiceUnavailable,
	}
	ErrChannelFailure = &AppError{
		Code:       "channel.failure",
		Message:    "Notification channel failed to deliver",
		StatusCode: http.StatusBadGateway,
	}
	ErrCircuitOpen = &AppError{
		Code:       "channel.circuit_open",
		Message:    "Notification channel is temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrInvalidTransition = &AppError{
		Code:       "lifecycle.invalid_transition",
		Message:    "Invalid notification state transition",
		StatusCode: http.StatusConflict,
	}
	ErrConflict = &AppError{
		Code:       "lifecycle.conflict",
		Message:    "Notification was modified concurrently",
		StatusCode: http.StatusConflict,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// Wrap turns any error into an internal AppError keeping the cause.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts err into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// IsValidation reports whether err is a create-time validation failure.
func IsValidation(err error) bool {
	return hasFamily(err, familyValidation)
}

// IsChannel reports whether err originated in a channel, an open circuit included.
func IsChannel(err error) bool {
	return hasFamily(err, familyChannel)
}

// IsLifecycle reports whether err is an invalid or lost state transition.
func IsLifecycle(err error) bool {
	return hasFamily(err, familyLifecycle)
}

func hasFamily(err error, prefix string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(appErr.Code, prefix)
}
