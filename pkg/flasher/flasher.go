// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

// Package flasher drives a whole programming run against one board
// or, in parallel, against every board in sight: connect, identify,
// erase, write, verify, then hand off to the console or close. The
// cmd layer populates Options; nothing here parses flags.
package flasher

import (
	"github.com/gmofishsauce/avrflash/pkg/chips"
	"github.com/gmofishsauce/avrflash/pkg/monitor"
	"github.com/gmofishsauce/avrflash/pkg/stk500v2"

	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Parallel flashing staggers board resets; boards sharing a USB hub
// can brown out when they all reset at once.
var startStagger = 5 * time.Second

// Replaced by tests.
var sleep = time.Sleep

// Options selects what a run does. Zero values mean: default baud
// rate, program rather than verify, no console afterward, progress
// style chosen by whether stdout is a terminal, default logger, real
// serial port.
type Options struct {
	Device        string
	Baud          int
	Image         []byte
	VerifyOnly    bool
	Monitor       bool
	PlainProgress bool
	Log           *log.Logger

	// OpenPort substitutes the transport factory. Tests point it at
	// a simulated bootloader.
	OpenPort func(device string, baud int) (stk500v2.Transport, error)
}

func (o *Options) logger() *log.Logger {
	if o.Log != nil {
		return o.Log
	}
	return log.Default()
}

func (o *Options) baud() int {
	if o.Baud != 0 {
		return o.Baud
	}
	return stk500v2.DefaultBaudRate
}

func connect(o *Options) (*stk500v2.Conn, error) {
	if o.OpenPort == nil {
		return stk500v2.Connect(o.Device, o.baud())
	}
	t, err := o.OpenPort(o.Device, o.baud())
	if err != nil {
		return nil, &stk500v2.ConnectError{Device: o.Device, Err: err}
	}
	c, err := stk500v2.Open(t)
	if err != nil {
		return nil, &stk500v2.ConnectError{Device: o.Device, Err: err}
	}
	return c, nil
}

// Run programs one board with the image, or only verifies it when
// VerifyOnly is set, and optionally stays on the port as a console
// afterward.
func Run(opts Options) error {
	logger := opts.logger()
	conn, err := connect(&opts)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Printf("connected to %s", opts.Device)

	conn.SetProgress(renderProgress(&opts, logger))

	if _, err := identify(conn, logger); err != nil {
		return err
	}
	if !opts.VerifyOnly {
		if err := conn.ChipErase(); err != nil {
			return err
		}
		logger.Printf("flashing %d bytes", len(opts.Image))
		if err := conn.WriteFlash(opts.Image); err != nil {
			return err
		}
	}
	logger.Printf("verifying %d bytes", len(opts.Image))
	if err := conn.VerifyFlash(opts.Image); err != nil {
		return err
	}
	logger.Println("done")

	if opts.Monitor {
		t, err := conn.LeaveISP()
		if err != nil {
			return err
		}
		return monitor.Run(t)
	}
	return nil
}

// RunAll programs every listed device at once, one goroutine per
// port. Connections share nothing, so the only coordination is the
// final join. Each port gets its own log prefix, and one port's
// failure doesn't stop the others.
func RunAll(devices []string, opts Options) error {
	var wg sync.WaitGroup
	errs := make([]error, len(devices))
	for i, device := range devices {
		o := opts
		o.Device = device
		o.Monitor = false // one keyboard cannot serve N boards
		o.PlainProgress = true
		o.Log = log.New(os.Stderr, "avrflash "+device+": ", log.Lmsgprefix|log.Lmicroseconds)
		wg.Add(1)
		go func(i int, o Options) {
			defer wg.Done()
			errs[i] = Run(o)
		}(i, o)
		sleep(startStagger)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			log.Printf("%s: %v", devices[i], err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices failed", failed, len(devices))
	}
	return nil
}

// Identify connects just long enough to read the device signature
// and prints what was found.
func Identify(opts Options) error {
	conn, err := connect(&opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	sig, err := conn.Signature()
	if err != nil {
		return err
	}
	if chip, ok := chips.BySignature(sig); ok {
		fmt.Printf("%s: %s, signature % 02X, %d pages of %d words\n",
			opts.Device, chip.Name, sig[:], chip.PageCount, chip.PageSize)
	} else {
		fmt.Printf("%s: unknown signature % 02X\n", opts.Device, sig[:])
	}
	return nil
}

// identify reads the device signature and installs the matching
// geometry on the connection.
func identify(conn *stk500v2.Conn, logger *log.Logger) (*chips.Chip, error) {
	sig, err := conn.Signature()
	if err != nil {
		return nil, err
	}
	chip, ok := chips.BySignature(sig)
	if !ok {
		return nil, &stk500v2.UnknownChipError{Signature: sig}
	}
	logger.Printf("device is %s", chip.Name)
	conn.SetChip(&stk500v2.ChipDescriptor{PageSize: chip.PageSize, PageCount: chip.PageCount})
	return chip, nil
}

// renderProgress picks the progress style: a redrawn percentage when
// stdout is a terminal, decile log lines otherwise. The write and
// verify passes share one 0..100% range.
func renderProgress(o *Options, logger *log.Logger) stk500v2.ProgressFunc {
	if o.PlainProgress || !term.IsTerminal(int(os.Stdout.Fd())) {
		lastDecile := 0
		return func(step, total int) {
			if d := 10 * step / total; d > lastDecile {
				lastDecile = d
				logger.Printf("progress %d%%", 10*d)
			}
		}
	}
	lastPct := -1
	return func(step, total int) {
		pct := 100 * step / total
		if pct == lastPct {
			return
		}
		lastPct = pct
		fmt.Printf("\r%3d%%", pct)
		if step == total {
			fmt.Println()
		}
	}
}
