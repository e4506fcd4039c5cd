// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

// Package intelhex reads Intel HEX firmware files into a flat byte
// image indexed from address 0. Gaps between records are filled with
// zeros. Only reading is supported.
package intelhex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseError reports a malformed record and the 1-based line it
// appeared on.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("hex file line %d: %s", e.Line, e.Msg)
}

// Read decodes Intel HEX records from r until the end-of-file record
// (or the end of input) and returns the assembled image. Data,
// end-of-file, extended segment address and extended linear address
// records are honored; other record types are ignored.
func Read(r io.Reader) ([]byte, error) {
	var image []byte
	var base int // offset applied by extended address records
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if text[0] != ':' {
			return nil, &ParseError{line, "record does not start with ':'"}
		}
		rec, err := hex.DecodeString(text[1:])
		if err != nil {
			return nil, &ParseError{line, "record is not valid hex"}
		}
		if len(rec) < 5 || len(rec) != int(rec[0])+5 {
			return nil, &ParseError{line, "record length mismatch"}
		}
		sum := byte(0)
		for _, b := range rec {
			sum += b
		}
		if sum != 0 {
			return nil, &ParseError{line, "record checksum mismatch"}
		}

		n := int(rec[0])
		addr := base + int(rec[1])<<8 + int(rec[2])
		switch rec[3] {
		case 0x00: // data
			if grow := addr + n - len(image); grow > 0 {
				image = append(image, make([]byte, grow)...)
			}
			copy(image[addr:], rec[4:4+n])
		case 0x01: // end of file
			return image, nil
		case 0x02: // extended segment address
			if n != 2 {
				return nil, &ParseError{line, "bad extended segment address record"}
			}
			base = (int(rec[4])<<8 + int(rec[5])) * 16
		case 0x04: // extended linear address
			if n != 2 {
				return nil, &ParseError{line, "bad extended linear address record"}
			}
			base = (int(rec[4])<<8 + int(rec[5])) << 16
		default:
			// Start-address records and the like contribute nothing
			// to the image.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return image, nil
}

// ReadFile reads the named Intel HEX file into a flat image.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	image, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return image, nil
}
