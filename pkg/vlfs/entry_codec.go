package vlfs

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// EntryCodec protects allocation table entries on flash. Encode turns a
// 12 byte entry into EncodedSize bytes; Decode reverses it, correcting
// what the code allows and failing with ErrCorruptedFileEntry otherwise.
//
// The codec id is recorded in the table header, so an image can only be
// read back with the codec it was written with.
type EntryCodec interface {
	ID() uint8
	EncodedSize() int
	Encode(dst, src []byte)
	Decode(dst, src []byte) error
}

// Codec ids stored in the table header.
const (
	plainCodecID       uint8 = 0
	reedSolomonCodecID uint8 = 1
)

// PlainCodec stores entries unprotected. The table CRC still rejects a
// damaged table as a whole.
type PlainCodec struct{}

// ID implements EntryCodec.
func (PlainCodec) ID() uint8 { return plainCodecID }

// EncodedSize implements EntryCodec.
func (PlainCodec) EncodedSize() int { return rawEntrySize }

// Encode implements EntryCodec.
func (PlainCodec) Encode(dst, src []byte) { copy(dst, src[:rawEntrySize]) }

// Decode implements EntryCodec.
func (PlainCodec) Decode(dst, src []byte) error {
	copy(dst, src[:rawEntrySize])
	return nil
}

const (
	rsDataShards   = 4
	rsParityShards = 2
	rsShardSize    = rawEntrySize / rsDataShards
)

// ReedSolomonCodec splits an entry into 4 data shards and adds 2 parity
// shards. Any single damaged shard is corrected.
type ReedSolomonCodec struct {
	enc reedsolomon.Encoder
}

// NewReedSolomonCodec builds the 4+2 codec.
func NewReedSolomonCodec() (*ReedSolomonCodec, error) {
	enc, err := reedsolomon.New(rsDataShards, rsParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}
	return &ReedSolomonCodec{enc: enc}, nil
}

// ID implements EntryCodec.
func (c *ReedSolomonCodec) ID() uint8 { return reedSolomonCodecID }

// EncodedSize implements EntryCodec.
func (c *ReedSolomonCodec) EncodedSize() int {
	return (rsDataShards + rsParityShards) * rsShardSize
}

func splitShards(b []byte) [][]byte {
	shards := make([][]byte, rsDataShards+rsParityShards)
	for i := range shards {
		shard := make([]byte, rsShardSize)
		copy(shard, b[i*rsShardSize:])
		shards[i] = shard
	}
	return shards
}

// Encode implements EntryCodec.
func (c *ReedSolomonCodec) Encode(dst, src []byte) {
	shards := make([][]byte, rsDataShards+rsParityShards)
	for i := range shards {
		shards[i] = make([]byte, rsShardSize)
		if i < rsDataShards {
			copy(shards[i], src[i*rsShardSize:(i+1)*rsShardSize])
		}
	}
	if err := c.enc.Encode(shards); err != nil {
		// Shards are allocated above with equal fixed sizes.
		panic(fmt.Sprintf("reed-solomon encode: %v", err))
	}
	for i, shard := range shards {
		copy(dst[i*rsShardSize:], shard)
	}
}

// Decode implements EntryCodec.
func (c *ReedSolomonCodec) Decode(dst, src []byte) error {
	if len(src) < c.EncodedSize() {
		return ErrCorruptedFileEntry
	}

	shards := splitShards(src)
	if ok, err := c.enc.Verify(shards); err == nil && ok {
		joinShards(dst, shards)
		return nil
	}

	// Erase one shard at a time; only the damaged one reconstructs into a
	// consistent codeword.
	for bad := range shards {
		candidate := splitShards(src)
		candidate[bad] = nil
		if err := c.enc.Reconstruct(candidate); err != nil {
			continue
		}
		if ok, err := c.enc.Verify(candidate); err == nil && ok {
			joinShards(dst, candidate)
			return nil
		}
	}
	return ErrCorruptedFileEntry
}

// codecByID returns the codec an image with the given header id was
// written with, or nil if the id is unknown.
func codecByID(id uint8) EntryCodec {
	switch id {
	case plainCodecID:
		return PlainCodec{}
	case reedSolomonCodecID:
		c, err := NewReedSolomonCodec()
		if err != nil {
			return nil
		}
		return c
	}
	return nil
}

func joinShards(dst []byte, shards [][]byte) {
	for i := 0; i < rsDataShards; i++ {
		copy(dst[i*rsShardSize:], shards[i])
	}
}
