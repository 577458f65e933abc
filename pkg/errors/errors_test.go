package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrSlotNotFound, http.StatusNotFound},
		{ErrNotFound, http.StatusNotFound},
		{ErrSlotAlreadyBooked, http.StatusConflict},
		{ErrSlotOverlap, http.StatusConflict},
		{ErrSlotBooked, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrInvalidState, http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reserve: %w", SlotAlreadyBooked("abc"))

	assert.True(t, IsCode(err, ErrSlotAlreadyBooked))
	assert.False(t, IsCode(err, ErrSlotNotFound))
	assert.True(t, stderrors.Is(err, New(ErrSlotAlreadyBooked, "")))
	assert.False(t, IsCode(stderrors.New("plain"), ErrInternal))
}

func TestInvalidTransition_Details(t *testing.T) {
	err := InvalidTransition("completed", "pending")

	assert.Equal(t, ErrInvalidTransition, err.Code)
	assert.Equal(t, "completed", err.Details["current"])
	assert.Equal(t, "pending", err.Details["requested"])
	assert.Contains(t, err.Error(), "completed")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewInternal(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error: connection refused", err.Error())
}
