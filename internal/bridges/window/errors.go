package window

import "errors"

// Domain errors for the window bridge.
var (
	// ErrUnsupportedPosition is returned for target positions other than 0 and 100.
	// The controller only understands discrete actions.
	ErrUnsupportedPosition = errors.New("window: only positions 0 and 100 are supported")

	// ErrUnknownAction is returned for action names outside the action table.
	ErrUnknownAction = errors.New("window: unknown action")

	// ErrNotReady is returned while the session is down or not logged in.
	ErrNotReady = errors.New("window: session not ready")

	// ErrNoState is returned before the first state has been observed.
	ErrNoState = errors.New("window: no state observed yet")
)
