package vlfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/example/vlfs/pkg/flash"
)

var errInvalidTable = errors.New("invalid allocation table")

// allocationTable is the in-memory directory. Entries are sorted by id.
type allocationTable struct {
	sequence  uint32
	position  int
	maxFileID FileID
	entries   []FileEntry
	opened    map[FileID]struct{}
}

func newAllocationTable() *allocationTable {
	return &allocationTable{opened: make(map[FileID]struct{})}
}

func (t *allocationTable) fileCount() int {
	return len(t.entries)
}

func (t *allocationTable) find(id FileID) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].ID >= id
	})
	return i, i < len(t.entries) && t.entries[i].ID == id
}

func (t *allocationTable) insert(e FileEntry) {
	i, _ := t.find(e.ID)
	t.entries = append(t.entries, FileEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *allocationTable) remove(i int) FileEntry {
	e := t.entries[i]
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return e
}

func (t *allocationTable) isOpened(id FileID) bool {
	_, ok := t.opened[id]
	return ok
}

// entry returns a copy of entry i with the open flag filled in.
func (t *allocationTable) entry(i int) FileEntry {
	e := t.entries[i]
	e.Opened = t.isOpened(e.ID)
	return e
}

// tableCapacity is the number of entries one slot can hold with codec.
func tableCapacity(codec EntryCodec) int {
	n := (TableSlotSize - tableHeaderSize - tableCrcSize) / codec.EncodedSize()
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	return n
}

func tableSize(codec EntryCodec, count int) int {
	return tableHeaderSize + count*codec.EncodedSize() + tableCrcSize
}

// encodeTable serializes t with the given sequence number:
//
//	version u32 | sequence u32 | maxFileID u64 | count u16 | codec u8 | 0xFF
//	count * codec(id u64 | type u16 | firstSector u16)
//	crc u32
//
// The CRC covers the header and the entries before encoding, so a damaged
// entry the codec repairs still passes.
func encodeTable(t *allocationTable, sequence uint32, codec EntryCodec, crc func([]byte) uint32) []byte {
	es := codec.EncodedSize()
	out := make([]byte, tableSize(codec, len(t.entries)))
	plain := make([]byte, tableHeaderSize+len(t.entries)*rawEntrySize)

	binary.BigEndian.PutUint32(plain[0:], tableVersion)
	binary.BigEndian.PutUint32(plain[4:], sequence)
	binary.BigEndian.PutUint64(plain[8:], uint64(t.maxFileID))
	binary.BigEndian.PutUint16(plain[16:], uint16(len(t.entries)))
	plain[18] = codec.ID()
	plain[19] = 0xFF
	copy(out, plain[:tableHeaderSize])

	for i, e := range t.entries {
		raw := plain[tableHeaderSize+i*rawEntrySize:]
		binary.BigEndian.PutUint64(raw[0:], uint64(e.ID))
		binary.BigEndian.PutUint16(raw[8:], uint16(e.Type))
		binary.BigEndian.PutUint16(raw[10:], e.FirstSector)
		codec.Encode(out[tableHeaderSize+i*es:], raw)
	}

	binary.BigEndian.PutUint32(out[len(out)-tableCrcSize:], crc(plain))
	return out
}

// codecMismatchError rejects a slot whose header names another entry codec.
type codecMismatchError struct {
	got, want uint8
}

func (e *codecMismatchError) Error() string {
	return fmt.Sprintf("%v: codec %d, want %d", errInvalidTable, e.got, e.want)
}

func (e *codecMismatchError) Is(target error) bool {
	return target == errInvalidTable
}

type tableHeader struct {
	version   uint32
	sequence  uint32
	maxFileID FileID
	count     int
	codec     uint8
}

func decodeTableHeader(b []byte) tableHeader {
	return tableHeader{
		version:   binary.BigEndian.Uint32(b[0:]),
		sequence:  binary.BigEndian.Uint32(b[4:]),
		maxFileID: FileID(binary.BigEndian.Uint64(b[8:])),
		count:     int(binary.BigEndian.Uint16(b[16:])),
		codec:     b[18],
	}
}

func (h tableHeader) check(codec EntryCodec) error {
	if h.version != tableVersion {
		return fmt.Errorf("%w: version %d", errInvalidTable, h.version)
	}
	if h.codec != codec.ID() {
		return &codecMismatchError{got: h.codec, want: codec.ID()}
	}
	if h.count > tableCapacity(codec) {
		return fmt.Errorf("%w: %d entries", errInvalidTable, h.count)
	}
	return nil
}

// decodeTable parses and validates a whole slot image. Any inconsistency
// rejects the table.
func decodeTable(b []byte, codec EntryCodec, crc func([]byte) uint32, validSector func(uint16) bool) (*allocationTable, error) {
	if len(b) < tableHeaderSize+tableCrcSize {
		return nil, fmt.Errorf("%w: short image", errInvalidTable)
	}
	h := decodeTableHeader(b)
	if err := h.check(codec); err != nil {
		return nil, err
	}
	size := tableSize(codec, h.count)
	if len(b) < size {
		return nil, fmt.Errorf("%w: short image", errInvalidTable)
	}

	t := newAllocationTable()
	t.sequence = h.sequence
	t.maxFileID = h.maxFileID
	t.entries = make([]FileEntry, 0, h.count)

	es := codec.EncodedSize()
	plain := make([]byte, tableHeaderSize+h.count*rawEntrySize)
	copy(plain, b[:tableHeaderSize])
	for i := 0; i < h.count; i++ {
		raw := plain[tableHeaderSize+i*rawEntrySize:]
		if err := codec.Decode(raw, b[tableHeaderSize+i*es:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", errInvalidTable, i, err)
		}
		e := FileEntry{
			ID:          FileID(binary.BigEndian.Uint64(raw[0:])),
			Type:        FileType(binary.BigEndian.Uint16(raw[8:])),
			FirstSector: binary.BigEndian.Uint16(raw[10:]),
		}
		t.entries = append(t.entries, e)
	}

	if want, got := binary.BigEndian.Uint32(b[size-tableCrcSize:]), crc(plain); want != got {
		return nil, fmt.Errorf("%w: crc %#x, want %#x", errInvalidTable, got, want)
	}

	for i, e := range t.entries {
		if i > 0 && e.ID <= t.entries[i-1].ID {
			return nil, fmt.Errorf("%w: entry %d out of order", errInvalidTable, i)
		}
		if e.ID > t.maxFileID {
			return nil, fmt.Errorf("%w: entry %d above max file id", errInvalidTable, i)
		}
		if e.FirstSector != NoSector && !validSector(e.FirstSector) {
			return nil, fmt.Errorf("%w: entry %d first sector %d", errInvalidTable, i, e.FirstSector)
		}
	}
	return t, nil
}

func slotAddress(slot int) uint32 {
	return uint32(slot) * TableSlotSize
}

func (v *VLFS) readTableSlot(ctx context.Context, slot int, codec EntryCodec) (*allocationTable, error) {
	base := slotAddress(slot)
	head, err := v.dev.read(ctx, base, tableHeaderSize)
	if err != nil {
		return nil, err
	}
	h := decodeTableHeader(head)
	if err := h.check(codec); err != nil {
		return nil, err
	}

	image, err := v.dev.read(ctx, base, tableSize(codec, h.count))
	if err != nil {
		return nil, err
	}
	t, err := decodeTable(image, codec, v.dev.calculateCrc, v.sectors.valid)
	if err != nil {
		return nil, err
	}
	t.position = slot
	return t, nil
}

// readLatestAllocationTable returns the valid slot with the highest
// sequence number. A slot that is valid under the codec its header names
// but not under the configured one fails the boot with ErrCodecMismatch
// when it is the newest, so the table is never replaced by an empty one.
func (v *VLFS) readLatestAllocationTable(ctx context.Context) (*allocationTable, error) {
	var latest, foreign *allocationTable
	var foreignCodec uint8
	for slot := 0; slot < TableSlots; slot++ {
		t, err := v.readTableSlot(ctx, slot, v.codec)
		var mismatch *codecMismatchError
		if errors.As(err, &mismatch) {
			if codec := codecByID(mismatch.got); codec != nil {
				ft, ferr := v.readTableSlot(ctx, slot, codec)
				if ferr == nil && (foreign == nil || ft.sequence > foreign.sequence) {
					foreign, foreignCodec = ft, mismatch.got
				}
				err = errors.Join(err, ferr)
			}
		}
		if err != nil {
			var flashErr *FlashError
			if errors.As(err, &flashErr) {
				return nil, err
			}
			if v.cfg.Verbose {
				v.logger.Printf("vlfs: table slot %d rejected: %v", slot, err)
			}
			continue
		}
		if latest == nil || t.sequence > latest.sequence {
			latest = t
		}
	}

	if foreign != nil && (latest == nil || foreign.sequence > latest.sequence) {
		return nil, fmt.Errorf("%w: slot %d uses codec %d, configured codec %d",
			ErrCodecMismatch, foreign.position, foreignCodec, v.codec.ID())
	}
	if latest == nil {
		return nil, errInvalidTable
	}
	return latest, nil
}

// writeTableSlot queues the erase of the sectors image spans in slot, then
// its pages.
func (v *VLFS) writeTableSlot(ctx context.Context, slot int, image []byte) error {
	base := slotAddress(slot)
	for off := 0; off < len(image); off += SectorSize {
		if err := v.daemon.enqueue(ctx, eraseSectorEntry(base+uint32(off))); err != nil {
			return err
		}
	}

	var buf [flash.WriteBufferSize]byte
	for off := 0; off < len(image); off += PageSize {
		for i := range buf {
			buf[i] = 0xFF
		}
		copy(buf[flash.FramingSize:], image[off:])
		if err := v.daemon.enqueue(ctx, writePageEntry(base+uint32(off), -1, &buf)); err != nil {
			return err
		}
	}
	return nil
}

// persistTable writes the table to the other slot with the next sequence
// number. The in-memory sequence and position only advance once the write
// is queued. The caller holds v.mu for writing.
func (v *VLFS) persistTable(ctx context.Context) error {
	slot := (v.table.position + 1) % TableSlots
	seq := v.table.sequence + 1
	image := encodeTable(v.table, seq, v.codec, v.dev.calculateCrc)
	if err := v.writeTableSlot(ctx, slot, image); err != nil {
		return err
	}
	v.table.sequence = seq
	v.table.position = slot
	if v.cfg.Verbose {
		v.logger.Printf("vlfs: persisted table seq=%d slot=%d files=%d", seq, slot, v.table.fileCount())
	}
	return nil
}

// writeFreshTable replaces the table with an empty one at sequence 0 in the
// first slot.
func (v *VLFS) writeFreshTable(ctx context.Context) error {
	t := newAllocationTable()
	image := encodeTable(t, 0, v.codec, v.dev.calculateCrc)
	if err := v.writeTableSlot(ctx, 0, image); err != nil {
		return err
	}
	v.table = t
	return nil
}
