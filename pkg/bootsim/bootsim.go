// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

// Package bootsim is an in-memory STK500v2 bootloader used by the
// tests. It implements the same transport surface as a real serial
// port, decodes the frames a connection writes, and answers the way
// an ATmega bootloader answers, with switches for inducing the
// faults a decoder has to survive. It never blocks: a read with
// nothing queued fails immediately with a timeout error, so tests
// run with no wall-clock waits.
package bootsim

import (
	"github.com/gmofishsauce/avrflash/pkg/chips"
	"github.com/gmofishsauce/avrflash/pkg/stk500v2"

	"bytes"
	"fmt"
	"os"
	"time"
)

// Corruption selects how CorruptNextReply mangles a reply frame.
type Corruption int

const (
	CorruptNone     Corruption = iota
	CorruptChecksum            // full frame with the checksum byte flipped
	CorruptToken               // truncated header with a bad token byte
)

// Device is one simulated bootloader. It is not safe for concurrent
// use, matching the one-goroutine-per-connection transport contract.
type Device struct {
	chip  chips.Chip
	flash []byte
	out   []byte // bytes waiting for the host to read
	dec   stk500v2.Decoder

	inProg  bool
	extAddr bool
	addr    int // byte address for page operations
	dtr     bool
	closed  bool

	resets     int
	pageWrites int
	seqs       []byte

	dropReplies bool
	corruptNext Corruption
	refuseProg  bool
	refuseLeave bool
}

// New builds a powered-on device with the given chip's geometry and
// signature. Flash starts erased, all 0xFF.
func New(chip chips.Chip) *Device {
	return &Device{
		chip:  chip,
		flash: bytes.Repeat([]byte{0xFF}, chip.PageSize*2*chip.PageCount),
	}
}

// ReadByte pops the next queued reply byte. The timeout is not
// waited out: an empty queue reports a timeout immediately.
func (d *Device) ReadByte(timeout time.Duration) (byte, error) {
	if d.closed {
		return 0, fmt.Errorf("device closed")
	}
	if len(d.out) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	b := d.out[0]
	d.out = d.out[1:]
	return b, nil
}

// Write feeds host bytes through the device's frame decoder and
// handles each complete request synchronously, queueing the reply.
func (d *Device) Write(p []byte) error {
	if d.closed {
		return fmt.Errorf("device closed")
	}
	for _, b := range p {
		if body, done := d.dec.Feed(b); done {
			d.handle(d.dec.Seq(), body)
		}
	}
	return nil
}

func (d *Device) Drain() error {
	return nil
}

// ResetIO models the host flushing both directions: anything the
// device had queued is gone.
func (d *Device) ResetIO() error {
	d.out = nil
	return nil
}

// SetDTR tracks the reset line. The falling edge restarts the
// bootloader: programming mode, addressing state and buffered output
// are lost, flash and fault switches survive.
func (d *Device) SetDTR(assert bool) error {
	if d.dtr && !assert {
		d.restart()
	}
	d.dtr = assert
	return nil
}

func (d *Device) Close() error {
	d.closed = true
	return nil
}

func (d *Device) restart() {
	d.inProg = false
	d.extAddr = false
	d.addr = 0
	d.out = nil
	d.dec = stk500v2.Decoder{}
	d.resets++
}

// handle answers one decoded request. Replies echo the request's
// sequence number.
func (d *Device) handle(seq byte, body []byte) {
	if len(body) == 0 {
		return
	}
	d.seqs = append(d.seqs, seq)
	d.send(seq, d.reply(body))
}

func (d *Device) send(seq byte, body []byte) {
	if body == nil || d.dropReplies {
		return
	}
	frame := stk500v2.EncodeFrame(seq, body)
	switch d.corruptNext {
	case CorruptChecksum:
		bad := append([]byte(nil), frame...)
		bad[len(bad)-1] ^= 0xFF
		d.out = append(d.out, bad...)
	case CorruptToken:
		// Header only: the host gives up at the token and must
		// resynchronize on the clean frame that follows.
		bad := append([]byte(nil), frame[:5]...)
		bad[4] ^= 0xFF
		d.out = append(d.out, bad...)
	}
	d.corruptNext = CorruptNone
	d.out = append(d.out, frame...)
}

func (d *Device) reply(body []byte) []byte {
	switch body[0] {
	case stk500v2.CmdSignOn:
		r := []byte{stk500v2.CmdSignOn, stk500v2.StatusCmdOK, 8}
		return append(r, "AVRISP_2"...)

	case stk500v2.CmdEnterProgmodeISP:
		if d.refuseProg {
			return []byte{stk500v2.CmdEnterProgmodeISP, stk500v2.StatusCmdFailed}
		}
		d.inProg = true
		d.addr = 0
		return []byte{stk500v2.CmdEnterProgmodeISP, stk500v2.StatusCmdOK}

	case stk500v2.CmdLeaveProgmodeISP:
		if d.refuseLeave {
			return []byte{stk500v2.CmdLeaveProgmodeISP, stk500v2.StatusCmdFailed}
		}
		d.inProg = false
		return []byte{stk500v2.CmdLeaveProgmodeISP, stk500v2.StatusCmdOK}

	case stk500v2.CmdLoadAddress:
		if len(body) < 5 {
			return []byte{stk500v2.CmdLoadAddress, stk500v2.StatusCmdFailed}
		}
		d.extAddr = body[1]&0x80 != 0
		word := int(body[1]&0x7F)<<24 | int(body[2])<<16 | int(body[3])<<8 | int(body[4])
		d.addr = word * 2
		return []byte{stk500v2.CmdLoadAddress, stk500v2.StatusCmdOK}

	case stk500v2.CmdProgramFlashISP:
		if !d.inProg || len(body) < 10 {
			return []byte{stk500v2.CmdProgramFlashISP, stk500v2.StatusCmdFailed}
		}
		data := body[10:]
		copy(d.flash[d.addr:], data)
		d.addr += len(data)
		d.pageWrites++
		return []byte{stk500v2.CmdProgramFlashISP, stk500v2.StatusCmdOK}

	case stk500v2.CmdReadFlashISP:
		if !d.inProg || len(body) < 3 {
			return []byte{stk500v2.CmdReadFlashISP, stk500v2.StatusCmdFailed}
		}
		n := int(body[1])<<8 | int(body[2])
		chunk := bytes.Repeat([]byte{0xFF}, n) // reads past the end float high
		if d.addr < len(d.flash) {
			copy(chunk, d.flash[d.addr:])
		}
		d.addr += n
		r := append([]byte{stk500v2.CmdReadFlashISP, stk500v2.StatusCmdOK}, chunk...)
		return append(r, stk500v2.StatusCmdOK)

	case stk500v2.CmdSpiMulti:
		if len(body) < 4 {
			return []byte{stk500v2.CmdSpiMulti, stk500v2.StatusCmdFailed}
		}
		rx := d.spi(body[4:], int(body[2]))
		r := append([]byte{stk500v2.CmdSpiMulti, stk500v2.StatusCmdOK}, rx...)
		return append(r, stk500v2.StatusCmdOK)
	}
	return []byte{body[0], stk500v2.StatusCmdUnknown}
}

// spi models the pass-through SPI exchange: each reply byte is what
// the chip shifted out while the matching instruction byte shifted
// in, so bytes 1..2 echo bytes 0..1 and byte 3 carries the data.
func (d *Device) spi(tx []byte, numRx int) []byte {
	rx := make([]byte, numRx)
	for i := 1; i < numRx && i <= len(tx); i++ {
		rx[i] = tx[i-1]
	}
	if len(tx) < 4 || numRx < 4 {
		return rx
	}
	switch {
	case tx[0] == 0x30 && tx[2] < 3: // read signature byte
		rx[3] = d.chip.Signature[tx[2]]
	case tx[0] == 0xAC && tx[1] == 0x80: // chip erase
		for i := range d.flash {
			d.flash[i] = 0xFF
		}
	}
	return rx
}

// Fault switches. All survive a reset pulse so a test can arm them
// before the connection handshake runs.

// DropReplies makes the device swallow requests without answering.
func (d *Device) DropReplies(drop bool) {
	d.dropReplies = drop
}

// CorruptNextReply mangles the next reply frame; a clean copy always
// follows the mangled one.
func (d *Device) CorruptNextReply(c Corruption) {
	d.corruptNext = c
}

// RefuseProgMode makes enter-programming-mode answer with a failure
// status.
func (d *Device) RefuseProgMode(refuse bool) {
	d.refuseProg = refuse
}

// RefuseLeave makes leave-programming-mode answer with a failure
// status.
func (d *Device) RefuseLeave(refuse bool) {
	d.refuseLeave = refuse
}

// QueueRaw plants bytes ahead of whatever the device sends next,
// standing in for line noise.
func (d *Device) QueueRaw(p []byte) {
	d.out = append(d.out, p...)
}

// LoadFlash stores p at the given byte address, as if a previous
// programming run had left it there.
func (d *Device) LoadFlash(addr int, p []byte) {
	copy(d.flash[addr:], p)
}

// Inspection for tests. Flash returns the live backing array; treat
// it as read-only.

func (d *Device) Flash() []byte      { return d.flash }
func (d *Device) InProgMode() bool   { return d.inProg }
func (d *Device) ExtendedAddr() bool { return d.extAddr }
func (d *Device) Resets() int        { return d.resets }
func (d *Device) PageWrites() int    { return d.pageWrites }
func (d *Device) Sequences() []byte  { return d.seqs }
func (d *Device) Closed() bool       { return d.closed }
