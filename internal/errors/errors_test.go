package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationMatchesSentinel(t *testing.T) {
	err := Validation(ReasonBlocked, "task %s is blocked", "t1")

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStore)
	assert.Equal(t, CodeBlocked, err.Code)
	assert.Equal(t, ReasonBlocked, ReasonOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "[VALIDATION-002] task t1 is blocked", err.Error())
}

func TestIsByCode(t *testing.T) {
	err := Validation(ReasonNoFeature, "no feature")
	assert.True(t, stderrors.Is(err, &Error{Code: CodeNoFeature}))
	assert.False(t, stderrors.Is(err, &Error{Code: CodeBlocked}))
}

func TestStoreUnwraps(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Store(cause)

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Validation(ReasonNoFeature, "x"), "not associated with a feature"},
		{Validation(ReasonBlocked, "x"), "blocked by a dependency"},
		{Store(stderrors.New("x")), "Nothing was modified"},
		{Conflict(CodeTimerRunning, "timer already running"), "timer already running"},
		{stderrors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		assert.Contains(t, UserMessage(tt.err), tt.want)
	}
}

func TestReasonOfPlainError(t *testing.T) {
	assert.Equal(t, Reason(""), ReasonOf(stderrors.New("x")))
}
