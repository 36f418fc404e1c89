package siegenia

import (
	"errors"
	"fmt"
)

// Domain errors for the Siegenia session client.
var (
	// ErrNotConnected is returned when a command is attempted without a live
	// transport. It is reported immediately and never retried.
	ErrNotConnected = errors.New("siegenia: not connected to device")

	// ErrTimeout is returned when no matching response arrives within the
	// response window. It does not affect the connection state.
	ErrTimeout = errors.New("siegenia: request timed out")

	// ErrConnectionClosed is returned for requests that were outstanding when
	// the transport dropped or Disconnect was called.
	ErrConnectionClosed = errors.New("siegenia: connection closed")

	// ErrAuthentication is matched by responses whose status signals a lost
	// or rejected session (not_authenticated, authentication_error).
	ErrAuthentication = errors.New("siegenia: authentication error")

	// ErrLoginFailed is returned by LoginUser once its retries are exhausted.
	ErrLoginFailed = errors.New("siegenia: login failed")

	// ErrConnectionFailed is surfaced as an error event when the reconnect
	// attempts are exhausted.
	ErrConnectionFailed = errors.New("siegenia: connection failed")

	// ErrAlreadyConnected is returned by Connect while a connection is
	// established or being dialled.
	ErrAlreadyConnected = errors.New("siegenia: already connected")

	// ErrTransportBusy is returned by Transport.Open when the transport
	// already owns a socket.
	ErrTransportBusy = errors.New("siegenia: transport already open")

	// ErrSendQueueFull is returned by Send when the writer goroutine has
	// fallen behind.
	ErrSendQueueFull = errors.New("siegenia: send queue full")

	// ErrTransportClosed is returned by Transport.Open after Close.
	ErrTransportClosed = errors.New("siegenia: transport closed")

	// ErrHeartbeatFailed wraps the cause of a failed keepAlive.
	ErrHeartbeatFailed = errors.New("siegenia: heartbeat failed")

	// ErrCommandFailed is matched by StatusError for non-ok responses.
	ErrCommandFailed = errors.New("siegenia: command failed")

	// ErrClientClosed is returned by any operation after Close.
	ErrClientClosed = errors.New("siegenia: client closed")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("siegenia: invalid options")
)

// Response statuses that mean the device no longer accepts the session.
const (
	StatusOK                  = "ok"
	StatusNotAuthenticated    = "not_authenticated"
	StatusAuthenticationError = "authentication_error"
)

// AuthError is delivered to the caller of a request whose response carried
// an authentication status. It matches ErrAuthentication.
type AuthError struct {
	Command string
	Status  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("siegenia: %s: %s", e.Command, e.Status)
}

// Is reports whether target is ErrAuthentication.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

// StatusError describes a response whose status was not "ok".
// It matches ErrCommandFailed.
type StatusError struct {
	Command string
	Status  string
}

func (e *StatusError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("siegenia: device returned status %q", e.Status)
	}
	return fmt.Sprintf("siegenia: %s returned status %q", e.Command, e.Status)
}

// Is reports whether target is ErrCommandFailed.
func (e *StatusError) Is(target error) bool {
	return target == ErrCommandFailed
}

func isAuthStatus(status string) bool {
	return status == StatusNotAuthenticated || status == StatusAuthenticationError
}
