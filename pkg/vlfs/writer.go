package vlfs

import (
	"context"
	"errors"
	"hash"
	"hash/crc32"

	"github.com/example/vlfs/pkg/flash"
)

// FileWriter appends to a file.
//
// Data is staged one page at a time and handed to the daemon as pages fill.
// A sector only becomes part of the file once its trailer is queued: the
// trailer is written with an end of chain link, then the previous tail's
// link (or the table entry, for the first sector) is pointed at it. A crash
// at any point leaves every reachable sector complete.
type FileWriter struct {
	v  *VLFS
	id FileID

	buf    [flash.WriteBufferSize]byte
	bufLen int

	// sector is the sector being filled, NoSector until data arrives.
	sector    uint16
	sectorLen int
	sealed    bool

	// tail is the last linked sector, NoSector while the file is empty.
	tail uint16

	crc     hash.Hash32
	written int64
	closed  bool
}

// OpenFileForWrite opens a file for appending.
func (v *VLFS) OpenFileForWrite(ctx context.Context, id FileID) (*FileWriter, error) {
	entry, err := v.markOpened("open for write", id)
	if err != nil {
		return nil, err
	}

	tail := NoSector
	if !entry.Empty() {
		err := v.walkChainLocked(ctx, entry.FirstSector, func(sector, _ uint16, _ bool) bool {
			tail = sector
			return true
		})
		if err != nil {
			v.markClosed(id)
			return nil, newError("open for write", id, err)
		}
	}

	if v.cfg.Verbose {
		v.logger.Printf("vlfs: opened %s for write, tail sector %d", id, tail)
	}
	w := &FileWriter{
		v:      v,
		id:     id,
		sector: NoSector,
		tail:   tail,
		crc:    crc32.NewIEEE(),
	}
	w.resetBuffer()
	return w, nil
}

// CreateFileAndOpenForWrite creates a file and opens it for writing.
func (v *VLFS) CreateFileAndOpenForWrite(ctx context.Context, typ FileType) (*FileWriter, error) {
	id, err := v.CreateFile(ctx, typ)
	if err != nil {
		return nil, err
	}
	return v.OpenFileForWrite(ctx, id)
}

// walkChainLocked is walkChain under the read lock.
func (v *VLFS) walkChainLocked(ctx context.Context, first uint16, visit func(sector, length uint16, lengthOK bool) bool) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.walkChain(ctx, first, visit)
}

// ID returns the id of the file being written.
func (w *FileWriter) ID() FileID {
	return w.id
}

// Checksum returns the CRC32 (IEEE) of the bytes written through w.
func (w *FileWriter) Checksum() uint32 {
	return w.crc.Sum32()
}

// Written returns the number of bytes written through w.
func (w *FileWriter) Written() int64 {
	return w.written
}

func (w *FileWriter) resetBuffer() {
	for i := range w.buf {
		w.buf[i] = 0xFF
	}
	w.bufLen = 0
}

func (w *FileWriter) payload() []byte {
	return w.buf[flash.FramingSize:]
}

// pageAddress is the address of the page the buffer belongs to.
func (w *FileWriter) pageAddress() uint32 {
	page := (w.sectorLen - w.bufLen) / MaxPageData
	return sectorAddress(w.sector) + uint32(page*PageSize)
}

func (w *FileWriter) inLastPage() bool {
	return w.sectorLen-w.bufLen >= lastPageDataStart
}

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext appends p to the file.
func (w *FileWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	if w.closed {
		return 0, newError("write", w.id, ErrFileClosed)
	}

	n := 0
	for len(p) > 0 {
		if w.sector == NoSector {
			if err := w.claimSector(ctx); err != nil {
				return n, newError("write", w.id, err)
			}
		}

		capacity := MaxPageData
		if w.inLastPage() {
			capacity = MaxLastPageData
		}
		chunk := capacity - w.bufLen
		if chunk > len(p) {
			chunk = len(p)
		}

		copy(w.payload()[w.bufLen:], p[:chunk])
		w.crc.Write(p[:chunk])
		w.bufLen += chunk
		w.sectorLen += chunk
		w.written += int64(chunk)
		n += chunk
		p = p[chunk:]

		if w.bufLen < capacity {
			continue
		}
		var err error
		if capacity == MaxLastPageData {
			err = w.finishSector(ctx)
		} else {
			err = w.flushPage(ctx)
		}
		if err != nil {
			return n, newError("write", w.id, err)
		}
	}
	return n, nil
}

func (w *FileWriter) claimSector(ctx context.Context) error {
	w.v.mu.Lock()
	defer w.v.mu.Unlock()
	sector, err := w.v.claimAvailableSectorAndErase(ctx)
	if err != nil {
		return err
	}
	w.sector = sector
	w.sectorLen = 0
	w.sealed = false
	return nil
}

// flushPage queues the staged page with its CRC.
func (w *FileWriter) flushPage(ctx context.Context) error {
	e := writePageEntry(w.pageAddress(), pad4(w.bufLen), &w.buf)
	if err := w.v.daemon.enqueue(ctx, e); err != nil {
		return err
	}
	w.resetBuffer()
	return nil
}

// finishSector writes the trailer of the current sector and links it into
// the chain.
func (w *FileWriter) finishSector(ctx context.Context) error {
	if !w.sealed {
		if !w.inLastPage() && w.bufLen > 0 {
			if err := w.flushPage(ctx); err != nil {
				return err
			}
		}

		crcOffset := -1
		if w.bufLen > 0 {
			crcOffset = pad4(w.bufLen)
		}
		putU16x4(w.payload()[lengthOffset-lastPageAddressOffset:], uint16(w.sectorLen))
		putU16x4(w.payload()[nextOffset-lastPageAddressOffset:], NoSector)

		e := writePageEntry(sectorAddress(w.sector)+lastPageAddressOffset, crcOffset, &w.buf)
		if err := w.v.daemon.enqueue(ctx, e); err != nil {
			return err
		}
		w.resetBuffer()
		w.sealed = true
	}

	if err := w.link(ctx); err != nil {
		return err
	}
	if w.v.cfg.Verbose {
		w.v.logger.Printf("vlfs: file %s: sector %d sealed with %d bytes", w.id, w.sector, w.sectorLen)
	}
	w.tail = w.sector
	w.sector = NoSector
	w.sectorLen = 0
	w.sealed = false
	return nil
}

// link makes the sealed sector reachable.
func (w *FileWriter) link(ctx context.Context) error {
	if w.tail == NoSector {
		return w.v.setFirstSector(ctx, w.id, w.sector)
	}

	var buf [flash.WriteBufferSize]byte
	for i := range buf {
		buf[i] = 0xFF
	}
	// Programming 0xFF leaves the rest of the page as it is.
	putU16x4(buf[flash.FramingSize+nextOffset-lastPageAddressOffset:], w.sector)
	e := writePageEntry(sectorAddress(w.tail)+lastPageAddressOffset, -1, &buf)
	return w.v.daemon.enqueue(ctx, e)
}

// Flush implements a durable flush: the current sector is sealed and
// everything queued so far is written out.
func (w *FileWriter) Flush() error {
	return w.FlushContext(context.Background())
}

// FlushContext is Flush with a context.
func (w *FileWriter) FlushContext(ctx context.Context) error {
	if w.closed {
		return newError("flush", w.id, ErrFileClosed)
	}
	if w.sector != NoSector && w.sectorLen > 0 {
		if err := w.finishSector(ctx); err != nil {
			return newError("flush", w.id, err)
		}
	}
	if err := w.v.daemon.sync(ctx); err != nil {
		return newError("flush", w.id, err)
	}
	return nil
}

// Close implements io.Closer.
func (w *FileWriter) Close() error {
	return w.CloseContext(context.Background())
}

// CloseContext seals the last sector, waits for the daemon and releases the
// file. The file is released even when sealing fails; bytes not yet linked
// are lost in that case.
func (w *FileWriter) CloseContext(ctx context.Context) error {
	if w.closed {
		return newError("close", w.id, ErrFileClosed)
	}

	var errs []error
	if w.sector != NoSector && w.sectorLen > 0 {
		if err := w.finishSector(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if w.sector != NoSector {
		w.v.mu.Lock()
		w.v.sectors.release(w.sector)
		w.v.mu.Unlock()
		w.sector = NoSector
	}
	if err := w.v.daemon.sync(ctx); err != nil {
		errs = append(errs, err)
	}

	w.v.markClosed(w.id)
	w.closed = true
	w.v.logger.Printf("vlfs: closed %s after writing %d bytes", w.id, w.written)

	if err := errors.Join(errs...); err != nil {
		return newError("close", w.id, err)
	}
	return nil
}
