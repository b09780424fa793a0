package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentUnavailable means no agent library is registered under the configured name.
	ErrAgentUnavailable = errors.New("agent library is not available")
	// ErrMissingBaseURL is a configuration error of the remote HTTP transport.
	ErrMissingBaseURL = errors.New("agent http transport: base URL is not configured")
	// ErrUnsupported is returned by a Library that cannot build an agent with the given options.
	ErrUnsupported = errors.New("agent construction not supported")
)

// ExecutionError wraps any failure to construct or run the agent.
type ExecutionError struct {
	Transport string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s execution failed: %v", e.Transport, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErr(transport string, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExecutionError{Transport: transport, Err: err}
}
