package mcp

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a server configuration that cannot be used
// to spawn a process. It is reported before anything is executed.
var ErrInvalidConfig = errors.New("invalid tool server configuration")

// ConnectionError indicates the session could not be established: spawn
// failure, handshake failure, or a dead process.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server %s: connect: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError indicates a failed exchange on an established session:
// malformed JSON, a server-reported error, or a request timeout.
type ProtocolError struct {
	Server string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tool server %s: protocol: %v", e.Server, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
