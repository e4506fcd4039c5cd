// Copyright (c) Jeff Berkowitz 2026. All rights reserved.

package chips

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gmofishsauce/avrflash/pkg/stk500v2"
)

func TestBySignature1(t *testing.T) {
	c, ok := BySignature([3]byte{0x1E, 0x98, 0x01})
	assert.True(t, ok)
	assert.Equal(t, "ATmega2560", c.Name)
	assert.Equal(t, 128, c.PageSize)
	assert.Equal(t, 1024, c.PageCount)

	c, ok = BySignature([3]byte{0x1E, 0x97, 0x03})
	assert.True(t, ok)
	assert.Equal(t, "ATmega1280", c.Name)
	assert.Equal(t, 512, c.PageCount)
}

func TestBySignature2(t *testing.T) {
	_, ok := BySignature([3]byte{0x1E, 0x95, 0x0F}) // ATmega328P, not supported
	assert.False(t, ok)
}

func TestDescribe(t *testing.T) {
	d, ok := Describe([3]byte{0x1E, 0x97, 0x03})
	assert.True(t, ok)
	assert.Equal(t, stk500v2.ChipDescriptor{PageSize: 128, PageCount: 512}, d)

	d, ok = Describe([3]byte{0, 0, 0})
	assert.False(t, ok)
	assert.Equal(t, stk500v2.ChipDescriptor{}, d)
}
