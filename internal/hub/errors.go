package hub

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned, wrapped in an InvokeError, when a command is
// attempted while the connection is not Connected.  Commands are never
// queued for later delivery.
var ErrNotConnected = errors.New("hub: not connected")

// ErrConnectionLost fails invocations still awaiting a completion when the
// transport goes away.
var ErrConnectionLost = errors.New("hub: connection lost")

// ConnectionError means the transport could not be established.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("hub: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// InvokeError means a command round trip did not complete successfully.
type InvokeError struct {
	Target string
	Err    error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("hub: invoke %s: %v", e.Target, e.Err)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// ServerError carries the error text of a completion sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}
