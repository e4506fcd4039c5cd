// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

// Package monitor holds the serial port open after programming and
// turns it into a plain console for the target's own output. The
// port arrives here through the connection's leave-programming-mode
// ownership transfer; nothing STK500v2-shaped travels on it anymore.
package monitor

// This implementation uses blocking serial I/O, a goroutine for
// standard input, and select to multiplex the two. The only
// millisecond delay in the program is the poll tick here, which
// keeps an idle console from spinning.

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/term"
)

const pollTimeout = 50 * time.Millisecond
const burstLimit = 256 // bytes drained per poll before checking the keyboard

// Replaced by tests that script a console session.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

// Device is the surface the console needs. The transport handed out
// by LeaveISP satisfies it.
type Device interface {
	ReadByte(timeout time.Duration) (byte, error)
	Write(p []byte) error
	Close() error
}

// Run streams device output to stdout and forwards typed lines to
// the device, until the input ends or the transport fails. The
// device is closed on the way out.
func Run(dev Device) error {
	defer dev.Close()
	log.Println("monitor running, ^D ends")
	input := newInput()

	for {
		var burst []byte
		for len(burst) < burstLimit {
			b, err := dev.ReadByte(pollTimeout)
			if err != nil {
				if os.IsTimeout(err) {
					break
				}
				return err
			}
			burst = append(burst, b)
		}
		if len(burst) > 0 {
			stdout.Write(burst)
		}

		line := input.get()
		if len(line) > 0 {
			if line == inputEOF {
				return nil
			}
			if err := dev.Write([]byte(line)); err != nil {
				return err
			}
		}
	}
}

// inputEOF is sent in-band when standard input ends. No real line
// can duplicate it because real lines keep their newline.
const inputEOF = "EOF"

type input struct {
	channel      chan string
	interactive  bool
	promptNeeded bool
}

func newInput() *input {
	interactive := false
	if f, ok := stdin.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	// Buffered so the final EOF marker never strands the reader.
	in := &input{make(chan string, 1), interactive, interactive}
	go in.reader(bufio.NewReader(stdin))
	return in
}

// Goroutine to consume standard input and send it to a channel the
// console loop selects on. EOF travels in-band as the marker.
func (in *input) reader(src *bufio.Reader) {
	for {
		s, err := src.ReadString('\n')
		if err != nil {
			in.channel <- inputEOF
			close(in.channel)
			if err != io.EOF {
				log.Printf("reading input: %v\n", err)
			}
			return
		}
		in.channel <- s
	}
}

func (in *input) get() string {
	if in.promptNeeded {
		fmt.Fprint(stdout, "> ")
		in.promptNeeded = false
	}
	select {
	case line := <-in.channel:
		in.promptNeeded = in.interactive
		return line
	case <-time.After(pollTimeout):
		return ""
	}
}
