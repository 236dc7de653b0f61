package cli

import "errors"

// ReplError is a non-fatal, user-facing mistake (bad arguments, unknown
// command) printed to the operator rather than logged as a failure: not a
// system failure, just invalid input or usage.
type ReplError struct {
	Message string
}

func (e *ReplError) Error() string { return e.Message }

func newReplError(msg string) *ReplError { return &ReplError{Message: msg} }

// ErrQuit is returned by Dispatcher.Pump when the operator types quit or
// exit; the driver loop returns it unchanged and the instance running the
// loop treats it as a clean shutdown request rather than a failure.
var ErrQuit = errors.New("quit requested")
