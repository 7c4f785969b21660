// Package fault defines the console's error taxonomy. Transport, timeout,
// and cancellation failures are distinct types so the UI can explain "the
// channel is down" and "no confirmation arrived" differently from "the
// server rejected the request".
package fault

import (
	"errors"
	"fmt"
)

// TransportError reports that the channel to the backend is unreachable or
// was lost mid-operation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that a correlation deadline passed before a matching
// confirmation arrived.
type TimeoutError struct {
	Waited string // human description of what was awaited
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s", e.Waited)
}

// CancelledError reports that the caller abandoned a correlation before it
// settled.
type CancelledError struct {
	Waited string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled while waiting for %s", e.Waited)
}

// CommandError reports that the backend rejected a command. Code is the
// machine-readable rejection code; Message is safe to show to the operator.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *CommandError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("command rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("command rejected: %s", e.Message)
}

// ProtocolError reports a malformed or unrecognized envelope. Protocol
// errors are logged and dropped; they never stop the bus.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Detail, e.Err)
	}
	return "protocol: " + e.Detail
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a correlation timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsCancelled reports whether err is a caller-initiated cancellation.
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}

// CommandCode returns the machine code of a command rejection, or "" if err
// is not a CommandError.
func CommandCode(err error) string {
	var c *CommandError
	if errors.As(err, &c) {
		return c.Code
	}
	return ""
}
