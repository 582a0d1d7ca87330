package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControllerBoundsConcurrency(t *testing.T) {
	c := NewController(1)

	p1, err := c.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx)
	require.Error(t, err, "second acquire should block until the first is released")

	p1.Release()

	p2, err := c.Acquire(context.Background())
	require.NoError(t, err)
	p2.Release()
}

func TestCheckMutationAllowed(t *testing.T) {
	require.NoError(t, CheckMutationAllowed(false))

	err := CheckMutationAllowed(true)
	require.Error(t, err)
}
