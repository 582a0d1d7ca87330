// Package authn implements the pluggable authentication engines the HTTP
// layer consults before admitting a request: HTTP Basic, AWS SigV4
// (header and presigned-query forms), and a compound engine that tries
// several in order.
package authn

import (
	"context"
	"net/http"
)

// User identifies the credential that authenticated a request.
type User struct {
	AccessKeyID string
}

// Engine authenticates an incoming request. A nil User with a nil error
// means the engine did not recognize the request's auth scheme and the
// caller should try the next engine; a non-nil error means the request
// was recognized and rejected.
type Engine interface {
	AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error)
}
