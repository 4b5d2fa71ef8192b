package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("db down")
	err := Wrap(base, CodeUnavailable, "store unavailable")

	assert.True(t, HasCode(err, CodeUnavailable))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("submit: %w", err)
	assert.True(t, HasCode(wrapped, CodeUnavailable))
	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "x"))
}

func TestMessageHidesInternalDetail(t *testing.T) {
	internal := Wrap(errors.New("pq: connection refused"), CodeInternal, "failed to load")
	assert.NotContains(t, Message(internal), "pq")
	assert.NotContains(t, Message(errors.New("raw")), "raw")

	assert.Equal(t, "access denied", Message(New(CodeForbidden, "access denied")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
