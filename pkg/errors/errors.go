package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, apperrors.New(apperrors.ErrSlotAlreadyBooked, "")).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail attaches a key/value to the error and returns it.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrSlotNotFound
	ErrSlotAlreadyBooked
	ErrSlotOverlap
	ErrSlotBooked
	ErrInvalidTransition
	ErrInvalidState
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:          "NOT_FOUND",
	ErrBadRequest:        "BAD_REQUEST",
	ErrUnauthorized:      "UNAUTHORIZED",
	ErrForbidden:         "FORBIDDEN",
	ErrInternal:          "INTERNAL_ERROR",
	ErrValidation:        "VALIDATION_ERROR",
	ErrSlotNotFound:      "SLOT_NOT_FOUND",
	ErrSlotAlreadyBooked: "SLOT_ALREADY_BOOKED",
	ErrSlotOverlap:       "SLOT_OVERLAP",
	ErrSlotBooked:        "SLOT_BOOKED",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrInvalidState:      "INVALID_STATE",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// HTTPStatus maps an error code onto the status code returned to clients.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrNotFound, ErrSlotNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrSlotAlreadyBooked, ErrSlotOverlap, ErrSlotBooked, ErrInvalidTransition, ErrInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New builds an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewValidation(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Slot allocation errors

func SlotNotFound(doctorID, date, startTime string) *AppError {
	return New(ErrSlotNotFound, "no matching availability slot").
		WithDetail("doctor_id", doctorID).
		WithDetail("date", date).
		WithDetail("start_time", startTime)
}

func SlotAlreadyBooked(slotID string) *AppError {
	return New(ErrSlotAlreadyBooked, "slot is already booked").WithDetail("slot_id", slotID)
}

func SlotOverlap(date, startTime, endTime string) *AppError {
	return New(ErrSlotOverlap, "slot overlaps an existing slot").
		WithDetail("date", date).
		WithDetail("start_time", startTime).
		WithDetail("end_time", endTime)
}

func SlotBooked(slotID string) *AppError {
	return New(ErrSlotBooked, "slot is booked and cannot be modified").WithDetail("slot_id", slotID)
}

// Lifecycle errors

func InvalidTransition(current, requested string) *AppError {
	return New(ErrInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", current, requested)).
		WithDetail("current", current).
		WithDetail("requested", requested)
}

func InvalidState(current, operation string) *AppError {
	return New(ErrInvalidState, fmt.Sprintf("cannot %s appointment in status %s", operation, current)).
		WithDetail("current", current)
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As unwraps err into an AppError when one is present.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
