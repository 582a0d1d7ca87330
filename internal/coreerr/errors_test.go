package coreerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := New(NoSuchKey, "missing.txt")
	wrapped := fmt.Errorf("reading object: %w", base)

	found, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, NoSuchKey, found.Kind)
}

func TestAsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("boom"))
	require.False(t, ok)
}

func TestInternalPreservesExistingKind(t *testing.T) {
	base := New(BadDigest, "checksum mismatch")
	wrapped := Internal("fallback message", base)
	require.Equal(t, BadDigest, wrapped.Kind)
}

func TestInternalWrapsPlainError(t *testing.T) {
	wrapped := Internal("disk failure", errors.New("io error"))
	require.Equal(t, InternalError, wrapped.Kind)
	require.ErrorIs(t, wrapped, wrapped.Err)
}
