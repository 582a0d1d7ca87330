package authn

import (
	"context"
	"crypto/subtle"
	"net/http"
)

// BasicAuthEngine authenticates against a single static credential pair
// using HTTP Basic auth.
type BasicAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string
}

func NewBasicAuthEngine(accessKeyID, secretAccessKey string) *BasicAuthEngine {
	return &BasicAuthEngine{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}
}

func (e *BasicAuthEngine) AuthenticateRequest(_ context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	if subtle.ConstantTimeCompare([]byte(user), []byte(e.AccessKeyID)) != 1 ||
		subtle.ConstantTimeCompare([]byte(pass), []byte(e.SecretAccessKey)) != 1 {
		return nil, nil
	}

	return &User{AccessKeyID: user}, nil
}
