// Copyright (c) Jeff Berkowitz 2025, 2026. All rights reserved.

// Package stk500v2 speaks the STK500v2 programmer protocol to an AVR
// bootloader over a byte transport. A Conn is strictly half duplex:
// every operation writes one request frame and then blocks for one
// response frame. There is no pipelining, no internal retry, and no
// cancellation; a blocked read ends only when the read timeout
// elapses. Closing the transport from another goroutine while a read
// is in flight is not supported. Distinct Conns on distinct
// transports are fully independent and need no locking.
//
// Response frames carry a sequence number, but it is not checked
// against the request: with one outstanding request per connection
// there is nothing to disambiguate.
package stk500v2

import (
	"github.com/gmofishsauce/avrflash/pkg/serport"

	"bytes"
	"fmt"
	"os"
	"time"
)

// DefaultBaudRate is the rate STK500v2 bootloaders ship with.
const DefaultBaudRate = 115200

// Timing is fixed by the bootloader's needs, not configurable.
const (
	connectTimeout  = 1 * time.Second        // reads during the handshake
	transferTimeout = 5 * time.Second        // reads after it; page ops are slow
	resetHold       = 100 * time.Millisecond // reset line asserted
	resetSettle     = 200 * time.Millisecond // target boot time after release
)

var sleep = time.Sleep

// StubSleep replaces the reset-pulse delays with a no-op and returns
// a func that restores them. For tests that drive an in-memory
// transport and have no hardware to wait for.
func StubSleep() (restore func()) {
	saved := sleep
	sleep = func(time.Duration) {}
	return func() { sleep = saved }
}

// enterProgmode is CMD_ENTER_PROGMODE_ISP with the timing and polling
// parameters for an ATmega-style target: 200ms command timeout, 100ms
// stabilization delay, 25ms command execute delay, 32 synch loops, no
// byte delay, poll for 0x53 in reply byte 3, then the four-byte SPI
// programming-enable instruction AC 53 00 00.
var enterProgmode = []byte{
	CmdEnterProgmodeISP,
	0xC8, 0x64, 0x19, 0x20, 0x00, 0x53, 0x03,
	0xAC, 0x53, 0x00, 0x00,
}

// Transport is the byte pipe a Conn drives. serport.Port satisfies it
// with a real serial device; bootsim.Device satisfies it in memory.
type Transport interface {
	ReadByte(timeout time.Duration) (byte, error)
	Write(p []byte) error
	Drain() error
	ResetIO() error
	SetDTR(assert bool) error
	Close() error
}

// Conn is one programmer connection. Create it with Connect or Open;
// it is ready for flash operations once either returns.
type Conn struct {
	t        Transport
	seq      byte
	timeout  time.Duration
	lastAddr int // word address last sent with load-address, -1 when none yet
	chip     *ChipDescriptor
	progress ProgressFunc
}

// Connect opens the named serial device at the given baud rate and
// brings the target into programming mode. Failures of either step
// come back as a ConnectError; unwrap it to branch on the underlying
// kind.
func Connect(device string, baud int) (*Conn, error) {
	t, err := serport.Open(device, baud)
	if err != nil {
		return nil, &ConnectError{Device: device, Err: err}
	}
	c, err := Open(t)
	if err != nil {
		return nil, &ConnectError{Device: device, Err: err}
	}
	return c, nil
}

// Open resets the target behind an already-open transport and brings
// it into programming mode. On failure the transport is closed and
// the error says what went wrong: ProtocolError when the target
// answered but refused, TimeoutError when it never answered.
func Open(t Transport) (*Conn, error) {
	c := &Conn{t: t, seq: 1, timeout: connectTimeout, lastAddr: -1}
	if err := c.open(); err != nil {
		t.Close()
		c.t = nil
		return nil, err
	}
	return c, nil
}

func (c *Conn) open() error {
	// Pulse the reset line and give the bootloader time to start.
	if err := c.t.SetDTR(true); err != nil {
		return err
	}
	sleep(resetHold)
	if err := c.t.SetDTR(false); err != nil {
		return err
	}
	sleep(resetSettle)
	if err := c.t.ResetIO(); err != nil {
		return err
	}

	// Synchronize. The sign-on answer's content is uninteresting,
	// but getting one proves the bootloader is listening.
	if _, err := c.sendMessage([]byte{CmdSignOn}); err != nil {
		return err
	}

	reply, err := c.sendMessage(enterProgmode)
	if err != nil {
		return err
	}
	if !bytes.Equal(reply, []byte{CmdEnterProgmodeISP, StatusCmdOK}) {
		return &ProtocolError{Op: "enter progmode", Reply: reply}
	}

	// Page transfers can take much longer than handshake replies.
	c.timeout = transferTimeout
	return nil
}

// sendMessage writes one request carrying body and blocks for one
// decoded response, returning its payload. The sequence number is
// consumed whether or not the send succeeds.
func (c *Conn) sendMessage(body []byte) ([]byte, error) {
	if c.t == nil {
		return nil, fmt.Errorf("internal error: connection closed")
	}
	frame := EncodeFrame(c.seq, body)
	c.seq++ // wraps mod 256
	err := c.t.Write(frame)
	if err == nil {
		err = c.t.Drain()
	}
	if err != nil {
		return nil, &SendTimeoutError{Err: err}
	}
	return c.recvMessage()
}

// recvMessage feeds the decoder one transport byte at a time until it
// produces a frame. The decoder discards line noise on its own; a
// read that produces no byte within the timeout fails immediately.
func (c *Conn) recvMessage() ([]byte, error) {
	var d Decoder
	for {
		b, err := c.t.ReadByte(c.timeout)
		if err != nil {
			if os.IsTimeout(err) {
				return nil, &TimeoutError{After: c.timeout}
			}
			return nil, err
		}
		if body, done := d.Feed(b); done {
			return body, nil
		}
	}
}

// SendISP passes a raw 4-byte ISP instruction through to the target
// chip and returns the chip's 4 reply bytes, stripped of the
// programmer's bookkeeping.
func (c *Conn) SendISP(cmd [4]byte) ([4]byte, error) {
	var out [4]byte
	reply, err := c.sendMessage([]byte{CmdSpiMulti, 4, 4, 0, cmd[0], cmd[1], cmd[2], cmd[3]})
	if err != nil {
		return out, err
	}
	if len(reply) < 6 {
		return out, &ProtocolError{Op: "spi multi", Reply: reply}
	}
	copy(out[:], reply[2:6])
	return out, nil
}

// LeaveISP takes the target out of programming mode and hands the
// still-open transport to the caller, who usually wants to talk to
// the freshly flashed program. The connection is unusable afterward.
// Returns (nil, nil) when not connected.
func (c *Conn) LeaveISP() (Transport, error) {
	if c.t == nil {
		return nil, nil
	}
	reply, err := c.sendMessage([]byte{CmdLeaveProgmodeISP})
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reply, []byte{CmdLeaveProgmodeISP, StatusCmdOK}) {
		return nil, &ProtocolError{Op: "leave progmode", Reply: reply}
	}
	t := c.t
	c.t = nil
	c.chip = nil
	c.lastAddr = -1
	return t, nil
}

// Close closes the transport. Harmless when not connected, including
// after LeaveISP has given the transport away.
func (c *Conn) Close() error {
	if c.t == nil {
		return nil
	}
	err := c.t.Close()
	c.t = nil
	c.chip = nil
	c.lastAddr = -1
	return err
}

// Connected reports whether the connection still owns a transport.
func (c *Conn) Connected() bool {
	return c.t != nil
}
