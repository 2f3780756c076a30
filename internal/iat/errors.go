package iat

import (
	"errors"
	"fmt"
)

var (
	errNotOpened      = errors.New("connection was never opened")
	errClientClosed   = errors.New("client closed")
	errConnectTimeout = errors.New("timed out waiting for connection")
)

// ConnectError is returned when the upstream connection could not be
// established or is no longer usable.
type ConnectError struct {
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream connect failed (http %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError is a non-zero code reported by the upstream service.
type ProtocolError struct {
	Code    int
	Message string
	SID     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

// SequenceError reports a frame sent out of order. It indicates a bug in the
// caller, never a runtime condition.
type SequenceError struct {
	Op    string
	State FrameState
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("cannot send %s frame in state %s", e.Op, e.State)
}
