// Package flash defines the capability interfaces VLFS consumes from the
// hardware drivers, together with host-side implementations of them.
package flash

import (
	"context"
	"encoding/binary"
)

const (
	// FramingSize is the number of leading bytes every read and write buffer
	// reserves for the SPI command and address of the transport.
	FramingSize = 5

	// PageSize is the program granularity of the NOR flash.
	PageSize = 256

	// SectorSize is the smallest erase unit.
	SectorSize = 4 * 1024

	// Block32KiB and Block64KiB are the larger erase units.
	Block32KiB = 32 * 1024
	Block64KiB = 64 * 1024

	// MaxReadLength is the largest read a single Read4KiB call may serve.
	MaxReadLength = 4 * 1024

	// WriteBufferSize is the length of the buffer passed to Write256B.
	WriteBufferSize = FramingSize + PageSize
)

// Flash is a NOR flash driver.
//
// Erase operations must set every erased bit to 1; programming may only
// clear bits. VLFS relies on both properties.
type Flash interface {
	// Size returns the size of the device in bytes.
	Size() uint32

	// Reset returns the device to a known state.
	Reset(ctx context.Context) error

	// EraseSector4KiB erases the 4 KiB sector starting at address.
	EraseSector4KiB(ctx context.Context, address uint32) error

	// EraseBlock32KiB erases the 32 KiB block starting at address.
	EraseBlock32KiB(ctx context.Context, address uint32) error

	// EraseBlock64KiB erases the 64 KiB block starting at address.
	EraseBlock64KiB(ctx context.Context, address uint32) error

	// Read4KiB reads length bytes (at most MaxReadLength) starting at
	// address. buf must be at least FramingSize+length bytes long; the
	// returned slice is buf[FramingSize:FramingSize+length].
	Read4KiB(ctx context.Context, address uint32, length int, buf []byte) ([]byte, error)

	// Write256B programs the page starting at address with
	// buf[FramingSize:FramingSize+PageSize]. address must be page aligned.
	Write256B(ctx context.Context, address uint32, buf []byte) error
}

// Crc is a word-oriented CRC32 accumulator, usually a hardware peripheral.
type Crc interface {
	Reset()
	Feed(word uint32)
	Read() uint32
}

// Calculate resets c and feeds data into it as big-endian words. A trailing
// partial word is padded with 0xFF.
func Calculate(c Crc, data []byte) uint32 {
	c.Reset()
	words := len(data) / 4
	for i := 0; i < words; i++ {
		c.Feed(binary.BigEndian.Uint32(data[i*4:]))
	}

	if rem := len(data) % 4; rem > 0 {
		last := [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
		copy(last[:], data[words*4:])
		c.Feed(binary.BigEndian.Uint32(last[:]))
	}

	return c.Read()
}
