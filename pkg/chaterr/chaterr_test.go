package chaterr

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	require.True(t, Is(Validationf("empty content"), KindValidation))
	require.True(t, Is(Permissionf("admin only"), KindPermission))
	require.True(t, Is(NotFoundf("message %d", 42), KindNotFound))
	require.True(t, Is(Conflictf("pinned meanwhile"), KindConflict))
	require.True(t, Is(Transient(io.EOF, "read"), KindTransient))

	require.False(t, Is(Validationf("empty content"), KindPermission))
	require.False(t, Is(errors.New("plain"), KindValidation))
	require.False(t, Is(nil, KindValidation))
}

func TestWrappedKindSurvives(t *testing.T) {
	err := errors.Wrap(NotFoundf("message 7"), "pin")
	require.True(t, Is(err, KindNotFound))
}

func TestUnwrapExposesCause(t *testing.T) {
	err := Transient(io.EOF, "broker dial")
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, errors.Unwrap(Transient(nil, "timeout")))
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(Transient(io.EOF, "read")))
	require.True(t, Retryable(errors.New("unclassified")))

	require.False(t, Retryable(Validationf("bad scope")))
	require.False(t, Retryable(Permissionf("nope")))
	require.False(t, Retryable(NotFoundf("gone")))
	require.False(t, Retryable(Conflictf("raced")))
	require.False(t, Retryable(nil))
}

func TestErrorString(t *testing.T) {
	require.Equal(t, "validation: empty content", Validationf("empty content").Error())
	require.Contains(t, Transient(io.EOF, "read").Error(), "transient: read")
}
