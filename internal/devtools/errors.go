package devtools

import (
	"errors"
	"fmt"
)

// Sentinel errors for the control channel. Callers are expected to test these
// with errors.Is rather than string matching.
var (
	// ErrChannelClosed is the rejection delivered to every pending call when
	// the underlying connection drops. It is also returned by Call on a
	// connection that is not currently connected.
	ErrChannelClosed = errors.New("devtools: channel closed")

	// ErrCallTimeout is returned when a call's deadline elapses before the
	// target answers. The pending entry is removed; a late response for that
	// id is dropped.
	ErrCallTimeout = errors.New("devtools: call timed out")

	// ErrReconnectExhausted is the terminal error carried by the
	// reconnect-failed event after the configured number of attempts.
	ErrReconnectExhausted = errors.New("devtools: reconnect attempts exhausted")

	// ErrNoTarget is returned by discovery when no candidate port answered
	// or no target matched the selection pattern.
	ErrNoTarget = errors.New("devtools: no debuggable target found")
)

// RemoteError is an error object returned by the target inside a response
// frame. It is distinct from transport failures: the channel stayed healthy,
// the remote side just refused the call.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("remote error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
