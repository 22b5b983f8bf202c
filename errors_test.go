package traybridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallError_Is(t *testing.T) {
	sentinels := map[ErrorCode]error{
		CodeUnavailable:     ErrTransportUnavailable,
		CodeNotFound:        ErrNotFound,
		CodeStaleHandle:     ErrStaleHandle,
		CodeInvalidArgument: ErrInvalidArgument,
		CodeProtocol:        ErrProtocolMismatch,
	}

	for code, sentinel := range sentinels {
		t.Run(string(code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", newCallError(CommandSetTitle, code, "boom", nil))

			assert.ErrorIs(t, err, sentinel)
			assert.ErrorIs(t, err, &CallError{Code: code})
			assert.NotErrorIs(t, err, ErrClosed)

			for other, otherSentinel := range sentinels {
				if other != code {
					assert.NotErrorIs(t, err, otherSentinel)
				}
			}
		})
	}
}

func TestCallError_Error(t *testing.T) {
	err := newCallError(CommandSetIcon, CodeInvalidArgument, "bad icon", errors.New("short buffer"))
	assert.Equal(t, "plugin:tray|set_icon: invalid_argument: bad icon (caused by: short buffer)", err.Error())

	err = unavailable(CommandNew, nil)
	assert.Equal(t, "plugin:tray|new: unavailable", err.Error())
}

func TestCallError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := unavailable(CommandSetVisible, cause)

	require.ErrorIs(t, err, cause)

	var callErr *CallError
	require.ErrorAs(t, fmt.Errorf("tray: %w", err), &callErr)
	assert.Equal(t, CommandSetVisible, callErr.Command)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{fmt.Errorf("x: %w", ErrNotFound), CodeNotFound},
		{fmt.Errorf("x: %w", ErrStaleHandle), CodeStaleHandle},
		{fmt.Errorf("x: %w", ErrInvalidArgument), CodeInvalidArgument},
		{fmt.Errorf("x: %w", ErrProtocolMismatch), CodeProtocol},
		{newCallError(CommandNew, CodeOS, "denied", nil), CodeOS},
		{errors.New("anything"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, codeOf(tt.err), tt.err.Error())
	}
}
