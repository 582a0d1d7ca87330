package authn

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	user *User
	err  error
}

func (s stubEngine) AuthenticateRequest(context.Context, *http.Request) (*User, error) {
	return s.user, s.err
}

func TestCompoundAuthEngineTriesEnginesInOrder(t *testing.T) {
	c := NewCompoundAuthEngine(
		stubEngine{},
		stubEngine{user: &User{AccessKeyID: "second"}},
	)

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	user, err := c.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.Equal(t, "second", user.AccessKeyID)
}

func TestCompoundAuthEngineSurfacesFirstError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	c := NewCompoundAuthEngine(
		stubEngine{err: wantErr},
		stubEngine{user: &User{AccessKeyID: "second"}},
	)

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	user, err := c.AuthenticateRequest(r.Context(), r)
	require.ErrorIs(t, err, wantErr)
	require.Nil(t, user)
}

func TestCompoundAuthEngineDeclinesWhenAllDecline(t *testing.T) {
	c := NewCompoundAuthEngine(stubEngine{}, stubEngine{})

	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	user, err := c.AuthenticateRequest(r.Context(), r)
	require.NoError(t, err)
	require.Nil(t, user)
}
