package vlfs

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/example/vlfs/pkg/flash"
	"github.com/stretchr/testify/require"
)

func testCrc(b []byte) uint32 {
	return flash.Calculate(flash.NewSoftwareCrc(), b)
}

func validIn(first, last uint16) func(uint16) bool {
	return func(s uint16) bool { return s >= first && s <= last }
}

func sampleTable() *allocationTable {
	t := newAllocationTable()
	t.maxFileID = 40
	t.insert(FileEntry{ID: 9, Type: 2, FirstSector: 100})
	t.insert(FileEntry{ID: 3, Type: 1, FirstSector: NoSector})
	t.insert(FileEntry{ID: 40, Type: 7, FirstSector: 17})
	return t
}

func TestAllocationTableSorted(t *testing.T) {
	tbl := sampleTable()
	require.Equal(t, []FileID{3, 9, 40}, []FileID{tbl.entries[0].ID, tbl.entries[1].ID, tbl.entries[2].ID})

	i, ok := tbl.find(9)
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = tbl.find(10)
	require.False(t, ok)

	removed := tbl.remove(0)
	require.Equal(t, FileID(3), removed.ID)
	require.Equal(t, 2, tbl.fileCount())
}

func TestEncodeDecodeTable(t *testing.T) {
	rs, err := NewReedSolomonCodec()
	require.NoError(t, err)

	for _, codec := range []EntryCodec{PlainCodec{}, rs} {
		image := encodeTable(sampleTable(), 12, codec, testCrc)
		require.Len(t, image, tableSize(codec, 3))

		got, err := decodeTable(image, codec, testCrc, validIn(ReservedSectors, 255))
		require.NoError(t, err)
		require.Equal(t, uint32(12), got.sequence)
		require.Equal(t, FileID(40), got.maxFileID)
		require.Equal(t, sampleTable().entries, got.entries)
	}
}

func TestDecodeTableRejects(t *testing.T) {
	valid := validIn(ReservedSectors, 255)
	good := encodeTable(sampleTable(), 1, PlainCodec{}, testCrc)

	// resign recomputes the CRC after a structural change.
	resign := func(b []byte) []byte {
		at := len(b) - tableCrcSize
		binary.BigEndian.PutUint32(b[at:], testCrc(b[:at]))
		return b
	}
	tests := []struct {
		name  string
		image func() []byte
	}{
		{"erased", func() []byte {
			b := make([]byte, len(good))
			for i := range b {
				b[i] = 0xFF
			}
			return b
		}},
		{"crc", func() []byte {
			b := append([]byte(nil), good...)
			b[tableHeaderSize+3] ^= 1
			return b
		}},
		{"version", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint32(b, 99)
			return resign(b)
		}},
		{"codec", func() []byte {
			b := append([]byte(nil), good...)
			b[18] = 1
			return resign(b)
		}},
		{"order", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint64(b[tableHeaderSize+rawEntrySize:], 2)
			return resign(b)
		}},
		{"max id", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint64(b[8:], 10)
			return resign(b)
		}},
		{"sector", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint16(b[tableHeaderSize+rawEntrySize+10:], 3)
			return resign(b)
		}},
		{"short", func() []byte {
			return good[:len(good)-8]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTable(tt.image(), PlainCodec{}, testCrc, valid)
			require.ErrorIs(t, err, errInvalidTable)
		})
	}
}

func TestTableCapacity(t *testing.T) {
	require.Equal(t, (TableSlotSize-24)/12, tableCapacity(PlainCodec{}))
	require.LessOrEqual(t, tableSize(PlainCodec{}, tableCapacity(PlainCodec{})), TableSlotSize)

	rs, err := NewReedSolomonCodec()
	require.NoError(t, err)
	require.LessOrEqual(t, tableSize(rs, tableCapacity(rs)), TableSlotSize)
}

func TestTablePersistAlternatesSlots(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestFS(t, nil)

	require.Equal(t, uint32(0), v.table.sequence)
	require.Equal(t, 0, v.table.position)

	_, err := v.CreateFile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v.table.sequence)
	require.Equal(t, 1, v.table.position)

	_, err = v.CreateFile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), v.table.sequence)
	require.Equal(t, 0, v.table.position)
	require.NoError(t, v.Sync(ctx))

	image := mem.Snapshot()
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(image[slotAddress(0)+4:]))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(image[slotAddress(1)+4:]))

	v2, _ := reboot(t, v, mem)
	require.Equal(t, uint32(2), v2.table.sequence)
	require.Equal(t, 0, v2.table.position)
	require.Equal(t, 2, v2.table.fileCount())
}

func TestTableFallsBackToPreviousSlot(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestFS(t, nil)

	first, err := v.CreateFile(ctx, 1)
	require.NoError(t, err)
	_, err = v.CreateFile(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	// Damage the newest copy (sequence 2, slot 0).
	mem.Corrupt(slotAddress(0)+tableHeaderSize, 0x80)

	v2, mem2 := reboot(t, v, mem)
	files, err := v2.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, first, files[0].ID)
	require.Equal(t, uint32(1), v2.table.sequence)

	// The next persist overwrites the damaged slot.
	_, err = v2.CreateFile(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 0, v2.table.position)

	v3, _ := reboot(t, v2, mem2)
	files, err = v3.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestTableBothSlotsCorrupted(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestFS(t, nil)
	_, err := v.CreateFile(ctx, 1)
	require.NoError(t, err)
	_, err = v.CreateFile(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	mem.Corrupt(slotAddress(0)+tableHeaderSize+1, 0x01)
	mem.Corrupt(slotAddress(1)+tableHeaderSize+1, 0x01)

	v2, _ := reboot(t, v, mem)
	files, err := v2.Files()
	require.NoError(t, err)
	require.Empty(t, files)
	require.Equal(t, uint32(0), v2.table.sequence)
}

func TestTableCodecMismatch(t *testing.T) {
	ctx := context.Background()
	rs, err := NewReedSolomonCodec()
	require.NoError(t, err)

	mem := flash.NewMemoryFlash(testFlashSize)
	v := openTestFS(t, mem, func(c *Config) { c.Codec = rs })
	id, err := v.CreateFile(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	// Same codec: the file is back, even with one damaged entry byte.
	mem.Corrupt(slotAddress(1)+tableHeaderSize+2, 0xFF)
	v = openTestFS(t, flash.NewMemoryFlashFromImage(mem.Snapshot()), func(c *Config) { c.Codec = rs })
	ok, err := v.Exists(id)
	require.NoError(t, err)
	require.True(t, ok)

	// Plain codec refuses to boot and leaves the image alone.
	img := flash.NewMemoryFlashFromImage(mem.Snapshot())
	before := img.Snapshot()
	plain, err := New(img, flash.NewSoftwareCrc(), testConfig())
	require.NoError(t, err)
	err = plain.Init(ctx)
	require.ErrorIs(t, err, ErrCodecMismatch)
	_, err = plain.CreateFile(ctx, 1)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, plain.Close(ctx))
	require.Equal(t, before, img.Snapshot())

	v = openTestFS(t, img, func(c *Config) { c.Codec = rs })
	ok, err = v.Exists(id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTableUnknownCodecIsInvalid(t *testing.T) {
	good := encodeTable(sampleTable(), 1, PlainCodec{}, testCrc)
	good[18] = 7
	_, err := decodeTable(good, PlainCodec{}, testCrc, validIn(ReservedSectors, 255))
	require.ErrorIs(t, err, errInvalidTable)
	require.Nil(t, codecByID(7))
	require.Equal(t, reedSolomonCodecID, codecByID(reedSolomonCodecID).ID())
}
