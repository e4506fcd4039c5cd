// Copyright (c) Jeff Berkowitz 2025, 2026. All rights reserved.

package stk500v2

// Error kinds surfaced by this package. Every operation reports its
// failure synchronously to the caller and nothing is retried here;
// a caller that wants resilience re-runs the whole operation. Branch
// on the kind with errors.As.

import (
	"fmt"
	"time"
)

// ConnectError reports that the serial device could not be opened or
// that the target never made it into programming mode.
type ConnectError struct {
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a reply that is not what the protocol
// requires for the command that elicited it. The frame itself was
// valid; its content was wrong.
type ProtocolError struct {
	Op    string
	Reply []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected reply % 02X", e.Op, e.Reply)
}

// TimeoutError reports that no byte arrived within the read timeout
// while a response frame was being decoded. A line that carries only
// noise produces this too, once the noise stops.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response frame after %v", e.After)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// SendTimeoutError reports that a request could not be written to the
// transport.
type SendTimeoutError struct {
	Err error
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendTimeoutError) Unwrap() error {
	return e.Err
}

// VerifyError reports the first byte of flash that read back
// different from the image that was written. Offset is absolute
// within the image.
type VerifyError struct {
	Offset int
	Want   byte
	Got    byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at 0x%X: wrote 0x%02X, read 0x%02X", e.Offset, e.Want, e.Got)
}

// UnknownChipError reports a device signature that is not in the
// chip table.
type UnknownChipError struct {
	Signature [3]byte
}

func (e *UnknownChipError) Error() string {
	return fmt.Sprintf("unknown chip signature % 02X", e.Signature[:])
}
