package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrap_NilError(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Client", "Request", "send"))
	assert.NoError(t, WrapTransient(nil, "Client", "Request", "send"))
	assert.NoError(t, WrapInvalid(nil, "Client", "Request", "send"))
	assert.NoError(t, WrapFatal(nil, "Client", "Request", "send"))
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Multiplexer", "Dispatch", "event parsing")
	require.Error(t, err)
	assert.Equal(t, "Multiplexer.Dispatch: event parsing failed: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapInvalid(ErrMalformedFrame, "codec", "DecodeSensor", "length check")
	assert.ErrorIs(t, err, ErrMalformedFrame)

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "codec", ce.Component)
	assert.Equal(t, "DecodeSensor", ce.Operation)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrFrameTimeout))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(ErrProtocolViolation))

	wrapped := WrapTransient(stderrors.New("x"), "c", "m", "a")
	assert.True(t, IsTransient(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrProtocolViolation))
	assert.True(t, IsFatal(ErrSessionTerminated))
	assert.True(t, IsFatal(ErrAuthenticationFailed))
	assert.True(t, IsFatal(fmt.Errorf("next: %w", ErrSessionClosed)))
	assert.False(t, IsFatal(ErrConnectionLost))

	wrapped := WrapFatal(stderrors.New("x"), "c", "m", "a")
	assert.True(t, IsFatal(wrapped))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrMalformedFrame))
	assert.True(t, IsInvalid(ErrUnsupportedVersion))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrProtocolViolation))
	assert.Equal(t, ErrorInvalid, Classify(ErrMalformedFrame))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionTimeout))
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestClassify_FatalWinsOverInvalid(t *testing.T) {
	// A fatal classification takes precedence when both would match by chain
	err := WrapFatal(ErrMalformedFrame, "c", "m", "a")
	assert.Equal(t, ErrorFatal, Classify(err))
}
