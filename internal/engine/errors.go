package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by a command that does not apply to the job's current state.
// The job is left untouched.
var ErrInvalidTransition = errors.New("engine: invalid transition for current state")

// ProtocolError represents a response the engine cannot stream: a status
// outside the 2xx class, or a missing or unusable Content-Length.
type ProtocolError struct {
	StatusCode int    // HTTP status code of the response
	Reason     string // Human-readable explanation
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (HTTP %d): %s", e.StatusCode, e.Reason)
}

// IOError represents a failed request, read, write, seek or file operation.
type IOError struct {
	Op   string // The operation that failed (e.g., "request", "read", "write")
	Path string // Local file or remote URL involved, if any
	Err  error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("i/o error during %s of %s: %v", e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("i/o error during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
