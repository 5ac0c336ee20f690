package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed conflict", NewConflictError("busy"), true},
		{"wrapped typed conflict", fmt.Errorf("run: %w", NewConflictError("busy")), true},
		{"status in message", errors.New("request failed with status 409"), true},
		{"already running message", errors.New("Job Already Running for crew"), true},
		{"generic failure", errors.New("connection reset"), false},
		{"not found", NewNotFoundError("crew"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConflict(tt.err))
		})
	}
}

func TestWrap_PreservesType(t *testing.T) {
	// Arrange
	base := NewNotFoundError("crew 7")

	// Act
	wrapped := Wrap(base, "update crew")

	// Assert
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	assert.Contains(t, wrapped.Error(), "update crew: crew 7 not found")
	assert.Equal(t, "crew 7 not found", base.Message, "original error must not be mutated")
}

func TestWrap_PlainError(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "load tabs")

	assert.True(t, IsType(wrapped, ErrorTypeInternal))
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusOf(NewValidationError("name is required")))
	assert.Equal(t, http.StatusBadGateway, StatusOf(NewExternalError("create agent", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
