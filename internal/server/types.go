package server

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey is returned when an upgrade request ends before its
// Sec-WebSocket-Key header.
var ErrMissingKey = errors.New("missing Sec-WebSocket-Key")

// ProtocolError reports a malformed request line or handshake. It never
// escapes a single connection.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// HandlerFault reports a dynamic handler that failed or panicked after the
// response headers were sent. The connection is closed without a body.
type HandlerFault struct {
	Key string
	Err error
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Key, e.Err)
}

func (e *HandlerFault) Unwrap() error {
	return e.Err
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
