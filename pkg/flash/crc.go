package flash

import (
	"encoding/binary"
	"hash/crc32"
)

// SoftwareCrc is a Crc computing CRC-32 (IEEE) in software. Words are fed
// most significant byte first, matching the order Calculate packs them in.
type SoftwareCrc struct {
	state uint32
}

// NewSoftwareCrc returns a reset SoftwareCrc.
func NewSoftwareCrc() *SoftwareCrc {
	return &SoftwareCrc{}
}

// Reset clears the accumulator.
func (c *SoftwareCrc) Reset() {
	c.state = 0
}

// Feed adds one word to the accumulator.
func (c *SoftwareCrc) Feed(word uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], word)
	c.state = crc32.Update(c.state, crc32.IEEETable, b[:])
}

// Read returns the current checksum.
func (c *SoftwareCrc) Read() uint32 {
	return c.state
}
