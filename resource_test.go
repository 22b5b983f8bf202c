package traybridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invokerFunc adapts a function to [Invoker].
type invokerFunc func(ctx context.Context, cmd Command, args any, reply any) error

func (f invokerFunc) Invoke(ctx context.Context, cmd Command, args any, reply any) error {
	return f(ctx, cmd, args, reply)
}

func TestResource_Close(t *testing.T) {
	var calls []any

	inv := invokerFunc(func(_ context.Context, cmd Command, args any, _ any) error {
		assert.Equal(t, CommandCloseResource, cmd)
		calls = append(calls, args)
		return nil
	})

	res := NewResource(inv, 7)
	assert.Equal(t, ResourceID(7), res.RID())
	assert.False(t, res.Closed())

	require.NoError(t, res.Close(context.Background()))
	assert.True(t, res.Closed())
	assert.Equal(t, []any{ridArgs{RID: 7}}, calls)

	err := res.Close(context.Background())
	require.ErrorIs(t, err, ErrStaleHandle)
	assert.Len(t, calls, 1, "second close must not reach the host")
}

func TestResource_CloseRetriesAfterTransportFailure(t *testing.T) {
	fail := true

	inv := invokerFunc(func(context.Context, Command, any, any) error {
		if fail {
			return unavailable(CommandCloseResource, errors.New("broken pipe"))
		}

		return nil
	})

	res := NewResource(inv, 1)

	require.ErrorIs(t, res.Close(context.Background()), ErrTransportUnavailable)
	assert.False(t, res.Closed())

	fail = false
	require.NoError(t, res.Close(context.Background()))
	assert.True(t, res.Closed())
}

func TestResource_CloseReportedStale(t *testing.T) {
	inv := invokerFunc(func(context.Context, Command, any, any) error {
		return newCallError(CommandCloseResource, CodeStaleHandle, "unknown rid", nil)
	})

	res := NewResource(inv, 3)

	require.ErrorIs(t, res.Close(context.Background()), ErrStaleHandle)
	assert.True(t, res.Closed())
}

func TestResource_CloseRejectedByHost(t *testing.T) {
	for _, code := range []ErrorCode{CodeOS, CodeInternal, CodeInvalidArgument} {
		t.Run(string(code), func(t *testing.T) {
			calls := 0
			inv := invokerFunc(func(context.Context, Command, any, any) error {
				calls++
				if calls == 1 {
					return newCallError(CommandCloseResource, code, "busy", nil)
				}

				return nil
			})

			res := NewResource(inv, 7)

			err := res.Close(context.Background())
			require.ErrorIs(t, err, &CallError{Code: code})
			assert.False(t, res.Closed())

			require.NoError(t, res.Close(context.Background()))
			assert.True(t, res.Closed())
			assert.Equal(t, 2, calls)
		})
	}
}
