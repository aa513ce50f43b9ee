package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := Errf(KindValidation, "name must not be empty")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindNotFound))

	wrapped := fmt.Errorf("creating workflow: %w", err)
	assert.Equal(t, KindValidation, KindOf(wrapped), "KindOf must see through wrapping")

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorFormatting(t *testing.T) {
	bare := Errf(KindInvalidState, "workflow is not a draft")
	assert.Equal(t, "invalid_state: workflow is not a draft", bare.Error())

	cause := errors.New("connection refused")
	wrapped := WrapErr(KindDependency, cause, "notification delivery failed")
	assert.Equal(t, "dependency: notification delivery failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestTokenFailuresAreUniform(t *testing.T) {
	// Unknown, expired, and spent tokens must all render the same message so
	// the error cannot be probed to learn why a link stopped working.
	causes := []error{
		errors.New("token not found"),
		errors.New("token expired"),
		errors.New("token already used"),
		nil,
	}

	want := SafeMessage(ErrTokenInvalid(nil))
	require.NotEmpty(t, want)

	for _, cause := range causes {
		err := ErrTokenInvalid(cause)
		assert.Equal(t, KindTokenInvalid, KindOf(err))
		assert.Equal(t, want, SafeMessage(err))
		if cause != nil {
			assert.ErrorIs(t, err, cause, "the cause must stay reachable for logs")
			assert.NotContains(t, err.Message, cause.Error())
		}
	}
}

func TestSafeMessage(t *testing.T) {
	assert.Equal(t, "workflow not found", SafeMessage(Errf(KindNotFound, "workflow not found")))

	// Anything that is not an engine error collapses to a generic message.
	leaky := errors.New("pq: connection to 10.0.0.5 refused")
	got := SafeMessage(leaky)
	assert.NotContains(t, got, "10.0.0.5")
	assert.Equal(t, SafeMessage(errors.New("other")), got)
}
