package request

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture()
	require.False(t, f.Resolved())

	f.Set("first")
	f.Set("second")
	f.SetErr(errors.New("late"))

	resp, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", resp)
	require.True(t, f.Resolved())
	require.NoError(t, f.Err())
}

func TestFutureError(t *testing.T) {
	f := NewFuture()
	cause := errors.New("boom")
	f.SetErr(cause)

	_, err := f.Await(context.Background())
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, f.Err(), cause)
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	f := NewFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Still resolvable afterwards.
	f.Set("ok")
	resp, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}
