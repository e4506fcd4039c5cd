// Copyright (c) Jeff Berkowitz 2025, 2026. All rights reserved.

// Package serport provides synchronous byte I/O on a serial device.
// The stock AVR boards route the port's DTR line to the reset pin
// through a capacitor, so merely opening the device restarts the
// board into its bootloader. The programmer relies on that: it pulses
// DTR itself after opening so the reset timing is its own rather than
// whatever the OS open() happened to produce.

// Reads here block with a timeout rather than forever. The underlying
// serial library reports a timed-out read as a zero-length read with a
// nil error; ReadByte turns that into NoResponseError so callers can
// tell "the device said nothing" from "the device is gone". Writes
// have no portable timeout in the serial stack and can in principle
// block once the OS buffer fills behind a wedged device; in practice
// a bootloader that stops draining also stops answering, and the read
// timeout ends the session first.

package serport

import (
	"fmt"
	"log"
	"syscall"
	"time"

	"go.bug.st/serial"
)

var debug bool = false

// SetDebug turns per-byte wire logging on or off. Noisy, but often
// the only way to find out what a bootloader actually said.
func SetDebug(setting bool) {
	debug = setting
}

// Port is one open serial device.
type Port struct {
	port serial.Port
}

// NoResponseError means no byte arrived within the read timeout. It
// carries the timeout that elapsed and satisfies the Timeout method
// that os.IsTimeout looks for.
type NoResponseError time.Duration

func (nre NoResponseError) Error() string {
	return fmt.Sprintf("no response after %v", time.Duration(nre))
}

func (nre NoResponseError) Timeout() bool {
	return true
}

// Open opens the named device at baudRate, 8 data bits, no parity,
// one stop bit.
func Open(deviceName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{BaudRate: baudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	p, err := serial.Open(deviceName, mode)
	if err != nil {
		return nil, err
	}
	return &Port{port: p}, nil
}

// List returns the serial devices present on the system, named so
// that Open accepts them.
func List() ([]string, error) {
	return serial.GetPortsList()
}

// ReadByte returns the next byte from the device, or NoResponseError
// if none arrives within timeout.
func (sp *Port) ReadByte(timeout time.Duration) (byte, error) {
	b := make([]byte, 1, 1)
	var n int
	var err error

	// The for-loop is -solely- to handle EINTR, which occurs constantly
	// as a result of Golang's Goroutine-level context switching mechanism.
	sp.port.SetReadTimeout(timeout)
	for {
		n, err = sp.port.Read(b)
		// Break loop unless EINTR.
		if !isRetryableSyscallError(err) {
			break
		}
		if n != 0 {
			panic("bytes returned despite EINTR")
		}
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// A timed-out read is a zero-length read with no error.
		return 0, NoResponseError(timeout)
	}
	if debug {
		log.Printf("serial read 0x%02X\n", b[0])
	}
	return b[0], nil
}

// Write sends all of p to the device or returns an error.
func (sp *Port) Write(p []byte) error {
	if debug {
		log.Printf("serial write % 02X\n", p)
	}
	var n int
	var err error

	// The for-loop is -solely- to handle EINTR, as in ReadByte.
	for {
		n, err = sp.port.Write(p)
		// Drop out of the loop on success
		// or error, but not on EINTR.
		if !isRetryableSyscallError(err) {
			break
		}
		if n != 0 {
			panic("bytes written despite EINTR")
		}
	}
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("write consumed %d of %d bytes", n, len(p))
	}
	return nil
}

// Drain blocks until the OS has handed the output buffer to the device.
func (sp *Port) Drain() error {
	return sp.port.Drain()
}

// ResetIO discards anything buffered in either direction. Everything
// in flight across a target reset is stale and has to go.
func (sp *Port) ResetIO() error {
	if err := sp.port.ResetInputBuffer(); err != nil {
		return err
	}
	return sp.port.ResetOutputBuffer()
}

// SetDTR raises or drops the DTR line, which on the stock boards
// reaches the target's reset pin.
func (sp *Port) SetDTR(assert bool) error {
	return sp.port.SetDTR(assert)
}

// Close closes the device.
func (sp *Port) Close() error {
	if sp.port == nil {
		return fmt.Errorf("internal error: close(): port not open")
	}
	if err := sp.port.Close(); err != nil {
		return err
	}
	sp.port = nil
	return nil
}

func isRetryableSyscallError(err error) bool {
	const eIntr = 4
	if errno, ok := err.(syscall.Errno); ok {
		return errno == eIntr
	}
	return false
}
