// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "sync"

// crc is the Modbus RTU checksum, polynomial 0xA001 (reflected 0x8005).
type crc struct {
	value16 uint16
}

var (
	crcTableOnce sync.Once
	crcTable     [256]uint16
)

func initCRCTable() {
	for i := range crcTable {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&1 != 0 {
				v = v>>1 ^ 0xA001
			} else {
				v >>= 1
			}
		}
		crcTable[i] = v
	}
}

func (c *crc) reset() *crc {
	crcTableOnce.Do(initCRCTable)
	c.value16 = 0xFFFF
	return c
}

func (c *crc) pushBytes(bs []byte) *crc {
	for _, b := range bs {
		c.value16 = c.value16>>8 ^ crcTable[byte(c.value16)^b]
	}
	return c
}

func (c *crc) value() uint16 {
	return c.value16
}
