// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

package stk500v2_test

// Connection tests run against the in-memory bootloader; they live
// outside the package so they can import it.

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gmofishsauce/avrflash/pkg/bootsim"
	"github.com/gmofishsauce/avrflash/pkg/chips"
	"github.com/gmofishsauce/avrflash/pkg/stk500v2"
)

func chipNamed(t *testing.T, name string, sig [3]byte) chips.Chip {
	c, ok := chips.BySignature(sig)
	assert.True(t, ok)
	assert.Equal(t, name, c.Name)
	return *c
}

func newMega2560(t *testing.T) *bootsim.Device {
	return bootsim.New(chipNamed(t, "ATmega2560", [3]byte{0x1E, 0x98, 0x01}))
}

func newMega1280(t *testing.T) *bootsim.Device {
	return bootsim.New(chipNamed(t, "ATmega1280", [3]byte{0x1E, 0x97, 0x03}))
}

func connect(t *testing.T, dev *bootsim.Device) *stk500v2.Conn {
	t.Cleanup(stk500v2.StubSleep())
	conn, err := stk500v2.Open(dev)
	assert.Nil(t, err)
	return conn
}

func TestOpen(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	assert.True(t, conn.Connected())
	assert.True(t, dev.InProgMode())
	assert.Equal(t, 1, dev.Resets())
	// Sign-on then enter-progmode, sequence starting at 1.
	assert.Equal(t, []byte{1, 2}, dev.Sequences())
}

func TestOpenRefused(t *testing.T) {
	t.Cleanup(stk500v2.StubSleep())
	dev := newMega2560(t)
	dev.RefuseProgMode(true)
	conn, err := stk500v2.Open(dev)
	assert.Nil(t, conn)
	var pe *stk500v2.ProtocolError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, []byte{0x10, 0xC0}, pe.Reply)
	assert.True(t, dev.Closed())
}

func TestOpenSilentTarget(t *testing.T) {
	t.Cleanup(stk500v2.StubSleep())
	dev := newMega2560(t)
	dev.DropReplies(true)
	conn, err := stk500v2.Open(dev)
	assert.Nil(t, conn)
	var te *stk500v2.TimeoutError
	assert.True(t, errors.As(err, &te))
	assert.True(t, os.IsTimeout(err))
	assert.True(t, dev.Closed())
}

func TestSendISP(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	r, err := conn.SendISP([4]byte{0x30, 0x00, 0x00, 0x00})
	assert.Nil(t, err)
	assert.Equal(t, byte(0x30), r[1]) // SPI echo of the first byte
	assert.Equal(t, byte(0x1E), r[3]) // first signature byte
}

func TestSignature(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	sig, err := conn.Signature()
	assert.Nil(t, err)
	assert.Equal(t, [3]byte{0x1E, 0x98, 0x01}, sig)
}

func TestLeaveISP(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	tr, err := conn.LeaveISP()
	assert.Nil(t, err)
	assert.Same(t, dev, tr)
	assert.False(t, conn.Connected())
	assert.False(t, dev.InProgMode())
	assert.False(t, dev.Closed()) // ownership moved, port still open

	tr, err = conn.LeaveISP()
	assert.Nil(t, err)
	assert.Nil(t, tr)
}

func TestLeaveRefused(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.RefuseLeave(true)
	tr, err := conn.LeaveISP()
	assert.Nil(t, tr)
	var pe *stk500v2.ProtocolError
	assert.True(t, errors.As(err, &pe))
	// The transport stays with the connection on a refused leave.
	assert.True(t, conn.Connected())
	assert.Nil(t, conn.Close())
	assert.True(t, dev.Closed())
}

func TestTimeoutDuringOperation(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.DropReplies(true)
	_, err := conn.Signature()
	var te *stk500v2.TimeoutError
	assert.True(t, errors.As(err, &te))
	assert.True(t, os.IsTimeout(err))
}

func TestSendFailure(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.Close()
	_, err := conn.Signature()
	var se *stk500v2.SendTimeoutError
	assert.True(t, errors.As(err, &se))
}

func TestNoiseBeforeReply(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.QueueRaw([]byte{0x00, 0xFF, 0x42})
	sig, err := conn.Signature()
	assert.Nil(t, err)
	assert.Equal(t, [3]byte{0x1E, 0x98, 0x01}, sig)
}

func TestBogusHeaderBeforeReply(t *testing.T) {
	// Noise that looks like the start of a frame but dies at the
	// token check; the real reply right behind it must still parse.
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.QueueRaw([]byte{0x1B, 0x00, 0x00, 0x00, 0x99})
	sig, err := conn.Signature()
	assert.Nil(t, err)
	assert.Equal(t, [3]byte{0x1E, 0x98, 0x01}, sig)
}

func TestCorruptChecksumResync(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.CorruptNextReply(bootsim.CorruptChecksum)
	sig, err := conn.Signature()
	assert.Nil(t, err)
	assert.Equal(t, [3]byte{0x1E, 0x98, 0x01}, sig)
}

func TestCorruptTokenResync(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	dev.CorruptNextReply(bootsim.CorruptToken)
	sig, err := conn.Signature()
	assert.Nil(t, err)
	assert.Equal(t, [3]byte{0x1E, 0x98, 0x01}, sig)
}

func TestSequenceWrap(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	// Two handshake messages have gone out; 100 signature reads add
	// 300 more, carrying the counter through the 255 -> 0 wrap.
	for i := 0; i < 100; i++ {
		_, err := conn.Signature()
		assert.Nil(t, err)
	}
	seqs := dev.Sequences()
	assert.Equal(t, 302, len(seqs))
	assert.Equal(t, byte(255), seqs[254])
	assert.Equal(t, byte(0), seqs[255])
	assert.Equal(t, byte(1), seqs[256])
}

func TestClose(t *testing.T) {
	dev := newMega2560(t)
	conn := connect(t, dev)
	assert.Nil(t, conn.Close())
	assert.False(t, conn.Connected())
	assert.True(t, dev.Closed())
	assert.Nil(t, conn.Close())
}
