// Copyright (c) Jeff Berkowitz 2025, 2026. All rights reserved.

package stk500v2

// Message framing. Every message, in either direction, rides in the
// same envelope:
//
//	offset 0   MESSAGE_START (0x1B)
//	offset 1   sequence number
//	offset 2   body length, high byte
//	offset 3   body length, low byte
//	offset 4   TOKEN (0x0E)
//	offset 5.. body (length bytes)
//	last       checksum, the XOR of every byte above
//
// XOR-reducing a whole valid frame therefore yields zero, which is
// the only integrity check the protocol has.

// Frame delimiters.
const (
	MessageStart byte = 0x1B
	Token        byte = 0x0E
)

// Command bytes, the first byte of a request body. A reply body
// echoes the command byte followed by a status byte.
const (
	CmdSignOn           byte = 0x01
	CmdLoadAddress      byte = 0x06
	CmdEnterProgmodeISP byte = 0x10
	CmdLeaveProgmodeISP byte = 0x11
	CmdProgramFlashISP  byte = 0x13
	CmdReadFlashISP     byte = 0x14
	CmdSpiMulti         byte = 0x1D
)

// Reply status bytes.
const (
	StatusCmdOK      byte = 0x00
	StatusCmdFailed  byte = 0xC0
	StatusCmdUnknown byte = 0xC9
)

// EncodeFrame wraps body in a framed message carrying the sequence
// number seq. Any body length a device could accept is legal,
// including zero.
func EncodeFrame(seq byte, body []byte) []byte {
	frame := make([]byte, 0, len(body)+6)
	frame = append(frame, MessageStart, seq, byte(len(body)>>8), byte(len(body)), Token)
	frame = append(frame, body...)
	var checksum byte
	for _, b := range frame {
		checksum ^= b
	}
	return append(frame, checksum)
}

// Decoder is the receive state machine. Feed it the stream a byte at
// a time and it hands back each complete, checksum-verified message
// body. Input that cannot belong to a valid frame is discarded: noise
// ahead of the start marker, a frame whose token byte is wrong, a
// frame whose checksum does not reduce to zero. After any of those
// the decoder hunts for the next start marker, so one corrupted frame
// costs only itself, not the rest of the stream. The zero value is
// ready to use.
type Decoder struct {
	state    decodeState
	seq      byte
	size     int
	checksum byte
	body     []byte
}

type decodeState int

const (
	decStart decodeState = iota // hunting for MESSAGE_START
	decSeq                      // next byte is the sequence number
	decSizeHigh
	decSizeLow
	decToken
	decBody
	decChecksum
)

// Feed advances the decoder by one received byte. When b completes a
// valid frame, Feed returns the frame's body with done == true and
// the decoder is ready for the next frame. A mismatched token byte is
// consumed as noise even when it happens to equal the start marker;
// resynchronization begins with the byte after it.
func (d *Decoder) Feed(b byte) (body []byte, done bool) {
	d.checksum ^= b
	switch d.state {
	case decStart:
		if b == MessageStart {
			d.checksum = MessageStart
			d.state = decSeq
		}
	case decSeq:
		d.seq = b
		d.state = decSizeHigh
	case decSizeHigh:
		d.size = int(b) << 8
		d.state = decSizeLow
	case decSizeLow:
		d.size |= int(b)
		d.state = decToken
	case decToken:
		if b != Token {
			d.state = decStart
		} else if d.size == 0 {
			// An empty body is legal; nothing left but the checksum.
			d.body = nil
			d.state = decChecksum
		} else {
			d.body = make([]byte, 0, d.size)
			d.state = decBody
		}
	case decBody:
		d.body = append(d.body, b)
		if len(d.body) == d.size {
			d.state = decChecksum
		}
	case decChecksum:
		d.state = decStart
		if d.checksum == 0 {
			body = d.body
			d.body = nil
			return body, true
		}
	}
	return nil, false
}

// Seq reports the sequence byte of the most recently started frame.
// A reply echoes the sequence number of the request it answers, so a
// responder needs this even though the receive path in this package
// never checks it.
func (d *Decoder) Seq() byte {
	return d.seq
}
