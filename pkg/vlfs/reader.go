package vlfs

import (
	"context"
	"encoding/binary"
	"errors"
	"hash"
	"hash/crc32"
	"io"
)

// FileReader reads a file sequentially, checking every page CRC and every
// trailer field on the way.
//
// Corruption stops the stream: Read returns the bytes validated so far
// together with a *CorruptedPageError, and keeps returning that error.
type FileReader struct {
	v  *VLFS
	id FileID

	sector     uint16
	page       int
	sectorLen  int // -1 until the trailer has been read
	sectorRead int
	visited    map[uint16]struct{}

	pending []byte
	crc     hash.Hash32
	read    int64
	err     error
	closed  bool
}

// OpenFileForRead opens a file for reading from the start.
func (v *VLFS) OpenFileForRead(ctx context.Context, id FileID) (*FileReader, error) {
	entry, err := v.markOpened("open for read", id)
	if err != nil {
		return nil, err
	}
	if v.cfg.Verbose {
		v.logger.Printf("vlfs: opened %s for read", id)
	}

	r := &FileReader{
		v:       v,
		id:      id,
		visited: make(map[uint16]struct{}),
		crc:     crc32.NewIEEE(),
	}
	r.enterSector(entry.FirstSector)
	return r, nil
}

// ID returns the id of the file being read.
func (r *FileReader) ID() FileID {
	return r.id
}

// Checksum returns the CRC32 (IEEE) of the bytes returned so far.
func (r *FileReader) Checksum() uint32 {
	return r.crc.Sum32()
}

func (r *FileReader) enterSector(sector uint16) {
	r.sector = sector
	r.page = 0
	r.sectorLen = -1
	r.sectorRead = 0
}

func (r *FileReader) corrupted(address uint32) error {
	r.v.logger.Printf("vlfs: file %s: corrupted page at %#x after %d bytes", r.id, address, r.read)
	return &CorruptedPageError{Address: address}
}

// Read implements io.Reader.
func (r *FileReader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext reads up to len(p) bytes. It returns io.EOF at the end of the
// chain.
func (r *FileReader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if r.closed {
		return 0, newError("read", r.id, ErrFileClosed)
	}

	n := 0
	for n < len(p) {
		if len(r.pending) > 0 {
			c := copy(p[n:], r.pending)
			r.pending = r.pending[c:]
			r.crc.Write(p[n : n+c])
			r.read += int64(c)
			n += c
			continue
		}
		if r.err != nil {
			return n, r.err
		}
		if r.sector == NoSector {
			if n == 0 {
				return 0, io.EOF
			}
			break
		}

		if err := r.readNextPage(ctx); err != nil {
			if !errors.Is(err, ErrCorruptedPage) {
				return n, newError("read", r.id, err)
			}
			r.err = err
		}
	}
	return n, nil
}

// readNextPage loads the next page of data into pending, or moves to the
// next sector once the current one is exhausted.
func (r *FileReader) readNextPage(ctx context.Context) error {
	base := sectorAddress(r.sector)

	if r.sectorLen < 0 {
		if _, ok := r.visited[r.sector]; ok || !r.v.sectors.valid(r.sector) {
			return r.corrupted(base)
		}
		r.visited[r.sector] = struct{}{}

		raw, err := r.v.dev.read(ctx, base+lengthOffset, 8)
		if err != nil {
			return err
		}
		length, ok := DecodeU16x4(raw)
		if !ok || length > MaxSectorData {
			return r.corrupted(base + lengthOffset)
		}
		r.sectorLen = int(length)
	}

	if r.sectorRead == r.sectorLen {
		raw, err := r.v.dev.read(ctx, base+nextOffset, 8)
		if err != nil {
			return err
		}
		next, ok := DecodeU16x4(raw)
		if !ok || (next != NoSector && !r.v.sectors.valid(next)) {
			return r.corrupted(base + nextOffset)
		}
		r.enterSector(next)
		return nil
	}

	capacity := MaxPageData
	if r.page == PagesPerSector-1 {
		capacity = MaxLastPageData
	}
	n := r.sectorLen - r.sectorRead
	if n > capacity {
		n = capacity
	}
	padded := pad4(n)

	address := base + uint32(r.page*PageSize)
	raw, err := r.v.dev.read(ctx, address, padded+4)
	if err != nil {
		return err
	}
	if want, got := binary.BigEndian.Uint32(raw[padded:]), r.v.dev.calculateCrc(raw[:padded]); want != got {
		return r.corrupted(address)
	}

	r.pending = raw[:n]
	r.sectorRead += n
	r.page++
	return nil
}

// Close implements io.Closer and releases the file.
func (r *FileReader) Close() error {
	if r.closed {
		return newError("close", r.id, ErrFileClosed)
	}
	r.v.markClosed(r.id)
	r.closed = true
	return nil
}
