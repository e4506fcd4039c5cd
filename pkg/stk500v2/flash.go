// Copyright (c) Jeff Berkowitz 2025, 2026. All rights reserved.

package stk500v2

// Flash programming on top of a connected Conn: chunked page writes,
// 256-byte read-back verification, and the raw ISP helpers the
// drivers build on.

import "fmt"

// ChipDescriptor gives the flash geometry of a target device.
// PageSize is in flash words, the unit the devices themselves quote;
// multiply by 2 for bytes.
type ChipDescriptor struct {
	PageSize  int
	PageCount int
}

// ChipLookup resolves a device signature to its flash geometry. The
// table of known devices lives outside this package; see pkg/chips.
type ChipLookup func(signature [3]byte) (ChipDescriptor, bool)

// ProgressFunc observes programming progress as (step, total): steps
// 1..n are page writes, n+1..2n read-back blocks. Purely
// observational.
type ProgressFunc func(step, total int)

// SetChip supplies the flash geometry for subsequent WriteFlash and
// VerifyFlash calls.
func (c *Conn) SetChip(chip *ChipDescriptor) {
	c.chip = chip
}

// SetProgress installs a progress observer. Pass nil to remove it.
func (c *Conn) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

func (c *Conn) reportProgress(step, total int) {
	if c.progress != nil {
		c.progress(step, total)
	}
}

// setLoadAddress points the target's internal read/write pointer at
// word address 0. Targets with more than 64KB of flash need the
// extended-addressing bit, set once here; the page commands
// auto-increment the pointer from then on.
func (c *Conn) setLoadAddress() error {
	if c.chip == nil {
		return fmt.Errorf("internal error: no chip descriptor set")
	}
	hi := byte(0)
	if c.chip.PageSize*2*c.chip.PageCount > 0xFFFF {
		hi = 0x80
	}
	if _, err := c.sendMessage([]byte{CmdLoadAddress, hi, 0, 0, 0}); err != nil {
		return err
	}
	c.lastAddr = 0
	return nil
}

// WriteFlash programs image into the target's flash starting at
// address 0, one page per command. The final page may be short and is
// sent as-is, never padded. SetChip must have been called.
func (c *Conn) WriteFlash(image []byte) error {
	if err := c.setLoadAddress(); err != nil {
		return err
	}
	pageSize := c.chip.PageSize * 2
	n := (len(image) + pageSize - 1) / pageSize
	for i := 0; i < n; i++ {
		page := image[i*pageSize:]
		if len(page) > pageSize {
			page = page[:pageSize]
		}
		// C1 0A 40 4C 20 00 00: page-mode programming with the
		// standard AVR load/write/poll opcodes and a 10ms delay.
		body := append([]byte{
			CmdProgramFlashISP, byte(pageSize >> 8), byte(pageSize),
			0xC1, 0x0A, 0x40, 0x4C, 0x20, 0x00, 0x00,
		}, page...)
		if _, err := c.sendMessage(body); err != nil {
			return err
		}
		c.reportProgress(i+1, n*2)
	}
	return nil
}

// VerifyFlash reads the target's flash back and compares it against
// image, failing on the first mismatch. Read-back always uses
// 256-byte blocks regardless of the device page size. Progress
// continues in the upper half of the range WriteFlash used, so a
// write+verify cycle renders as a single bar.
func (c *Conn) VerifyFlash(image []byte) error {
	if err := c.setLoadAddress(); err != nil {
		return err
	}
	n := (len(image) + 0xFF) / 0x100
	for i := 0; i < n; i++ {
		reply, err := c.sendMessage([]byte{CmdReadFlashISP, 0x01, 0x00, 0x20})
		if err != nil {
			return err
		}
		if len(reply) < 2+0x100 {
			return &ProtocolError{Op: "read flash", Reply: reply}
		}
		data := reply[2 : 2+0x100]
		c.reportProgress(n+i+1, n*2)
		for j := 0; j < 0x100; j++ {
			off := i*0x100 + j
			if off >= len(image) {
				break
			}
			if image[off] != data[j] {
				return &VerifyError{Offset: off, Want: image[off], Got: data[j]}
			}
		}
	}
	return nil
}

// Signature reads the target's three-byte device signature, most
// significant byte first.
func (c *Conn) Signature() ([3]byte, error) {
	var sig [3]byte
	for i := range sig {
		r, err := c.SendISP([4]byte{0x30, 0x00, byte(i), 0x00})
		if err != nil {
			return sig, err
		}
		sig[i] = r[3]
	}
	return sig, nil
}

// ChipErase issues the ISP chip-erase instruction.
func (c *Conn) ChipErase() error {
	_, err := c.SendISP([4]byte{0xAC, 0x80, 0x00, 0x00})
	return err
}

// ProgramChip runs the whole programming cycle: identify the target
// by signature, erase, write image, read it back. The lookup supplies
// flash geometry for the signature; an unrecognized signature fails
// with UnknownChipError before anything is written.
func (c *Conn) ProgramChip(image []byte, lookup ChipLookup) error {
	sig, err := c.Signature()
	if err != nil {
		return err
	}
	chip, ok := lookup(sig)
	if !ok {
		return &UnknownChipError{Signature: sig}
	}
	c.SetChip(&chip)
	if err := c.ChipErase(); err != nil {
		return err
	}
	if err := c.WriteFlash(image); err != nil {
		return err
	}
	return c.VerifyFlash(image)
}
