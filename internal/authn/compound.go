package authn

import (
	"context"
	"net/http"
)

// CompoundAuthEngine tries each engine in order and returns the first
// non-nil User. It surfaces the first hard error from an engine that
// recognized (and rejected) the request.
type CompoundAuthEngine struct {
	Engines []Engine
}

func NewCompoundAuthEngine(engines ...Engine) *CompoundAuthEngine {
	return &CompoundAuthEngine{Engines: engines}
}

func (c *CompoundAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	for _, e := range c.Engines {
		user, err := e.AuthenticateRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, nil
}
