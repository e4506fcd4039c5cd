// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

package monitor

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scriptDevice plays back a fixed byte stream and records what the
// console sends it. Once the stream is drained, ReadByte reports a
// timeout, or err if one is set.
type scriptDevice struct {
	out    []byte
	in     []byte
	closed bool
	err    error
}

func (d *scriptDevice) ReadByte(timeout time.Duration) (byte, error) {
	if len(d.out) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		return 0, os.ErrDeadlineExceeded
	}
	b := d.out[0]
	d.out = d.out[1:]
	return b, nil
}

func (d *scriptDevice) Write(p []byte) error {
	d.in = append(d.in, p...)
	return nil
}

func (d *scriptDevice) Close() error {
	d.closed = true
	return nil
}

// console redirects the session: typed becomes standard input, and
// the returned buffer captures what the console displays.
func console(t *testing.T, typed string) *bytes.Buffer {
	savedIn, savedOut := stdin, stdout
	t.Cleanup(func() { stdin, stdout = savedIn, savedOut })
	screen := &bytes.Buffer{}
	stdin = strings.NewReader(typed)
	stdout = screen
	return screen
}

func TestMonitorSession(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	screen := console(t, "reset\n")
	dev := &scriptDevice{out: payload}

	err := Run(dev)
	assert.Nil(t, err)
	assert.Equal(t, payload, screen.Bytes())
	assert.Equal(t, "reset\n", string(dev.in))
	assert.True(t, dev.closed)
}

func TestMonitorDeviceFailure(t *testing.T) {
	console(t, "")
	boom := errors.New("serial gone")
	dev := &scriptDevice{out: []byte("ok"), err: boom}

	err := Run(dev)
	assert.Equal(t, boom, err)
	assert.True(t, dev.closed)
}

func TestMonitorInputEOF(t *testing.T) {
	console(t, "")
	dev := &scriptDevice{}

	assert.Nil(t, Run(dev))
	assert.True(t, dev.closed)
}
