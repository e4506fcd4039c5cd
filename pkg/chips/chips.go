// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

// Package chips is the table of AVR devices this programmer knows,
// keyed by the three-byte device signature.
package chips

import (
	"github.com/gmofishsauce/avrflash/pkg/stk500v2"
)

// Chip describes one AVR device. PageSize is in flash words.
type Chip struct {
	Name      string
	Signature [3]byte
	PageSize  int
	PageCount int
}

// The boards this tool gets pointed at are Arduino Mega variants, so
// the table is short. Extend it here when a new signature shows up.
var table = []Chip{
	{"ATmega1280", [3]byte{0x1E, 0x97, 0x03}, 128, 512},
	{"ATmega2560", [3]byte{0x1E, 0x98, 0x01}, 128, 1024},
}

// BySignature finds the chip with the given device signature. The
// result is shared and must not be modified.
func BySignature(sig [3]byte) (*Chip, bool) {
	for i := range table {
		if table[i].Signature == sig {
			return &table[i], true
		}
	}
	return nil, false
}

// Describe is a stk500v2.ChipLookup over the table.
func Describe(sig [3]byte) (stk500v2.ChipDescriptor, bool) {
	c, ok := BySignature(sig)
	if !ok {
		return stk500v2.ChipDescriptor{}, false
	}
	return stk500v2.ChipDescriptor{PageSize: c.PageSize, PageCount: c.PageCount}, true
}
