// internal/hcom/errors.go
package hcom

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFraming marks a corrupt or truncated frame. Frames carrying it
	// are dropped by the reader and never reach callers.
	ErrFraming = errors.New("hcom: framing error")

	// ErrProtocol marks a packet that decoded but cannot be interpreted
	ErrProtocol = errors.New("hcom: protocol error")

	// ErrDeviceDisconnected is returned when the link drops mid-operation
	ErrDeviceDisconnected = errors.New("hcom: device disconnected")

	// ErrNotConnected is returned when a request could not be written
	// because the link was already down. It matches ErrDeviceDisconnected.
	ErrNotConnected = fmt.Errorf("%w: request not sent", ErrDeviceDisconnected)
)

// CommandTimeoutError is returned when no response matched in time
type CommandTimeoutError struct {
	Request RequestType
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("hcom: %s timed out after %s", e.Request, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded
func (e *CommandTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// CommandRejectedError is returned when the device answers Rejected
type CommandRejectedError struct {
	Request RequestType
	Reason  string
}

func (e *CommandRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hcom: %s rejected by device", e.Request)
	}
	return fmt.Sprintf("hcom: %s rejected by device: %s", e.Request, e.Reason)
}

// TransferAbortError ends a file transfer during its start handshake
type TransferAbortError struct {
	FileName string
	Response MessageType
	Reason   string
}

func (e *TransferAbortError) Error() string {
	msg := fmt.Sprintf("hcom: transfer of %q aborted on %s", e.FileName, e.Response)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// StateMachineError records the phase in which a firmware update failed
type StateMachineError struct {
	State string
	Err   error
}

func (e *StateMachineError) Error() string {
	return fmt.Sprintf("hcom: update failed in %s: %v", e.State, e.Err)
}

func (e *StateMachineError) Unwrap() error {
	return e.Err
}
