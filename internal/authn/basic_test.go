package authn

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicAuthEngineAccepts(t *testing.T) {
	e := NewBasicAuthEngine("alice", "s3cret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	r.SetBasicAuth("alice", "s3cret")

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "alice", user.AccessKeyID)
}

func TestBasicAuthEngineDeclinesOnMismatch(t *testing.T) {
	e := NewBasicAuthEngine("alice", "s3cret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	r.SetBasicAuth("alice", "wrong")

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestBasicAuthEngineDeclinesWithoutHeader(t *testing.T) {
	e := NewBasicAuthEngine("alice", "s3cret")

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	user, err := e.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)
}
