package vlfs

import (
	"context"
	"errors"
	"math"
)

// walkChain visits the sectors of the chain that starts at first, passing
// the decoded data length of each. visit returns false to stop. The walk
// fails with a *CorruptedPageError at a link that cannot be decoded, points
// outside the data region, or loops back into the chain.
func (v *VLFS) walkChain(ctx context.Context, first uint16, visit func(sector, length uint16, lengthOK bool) bool) error {
	seen := make(map[uint16]struct{})
	var link uint32
	for sector := first; sector != NoSector; {
		if !v.sectors.valid(sector) {
			return &CorruptedPageError{Address: link}
		}
		if _, ok := seen[sector]; ok {
			return &CorruptedPageError{Address: link}
		}
		seen[sector] = struct{}{}

		trailer, err := v.dev.read(ctx, sectorAddress(sector)+lengthOffset, 16)
		if err != nil {
			return err
		}
		length, lengthOK := DecodeU16x4(trailer[:8])
		if !visit(sector, length, lengthOK) {
			return nil
		}

		link = sectorAddress(sector) + nextOffset
		next, ok := DecodeU16x4(trailer[8:])
		if !ok {
			return &CorruptedPageError{Address: link}
		}
		sector = next
	}
	return nil
}

// CreateFile adds an empty file of the given type and returns its id, one
// above the largest id ever handed out.
func (v *VLFS) CreateFile(ctx context.Context, typ FileType) (FileID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkOpen(); err != nil {
		return 0, err
	}

	if v.table.maxFileID == math.MaxUint64 {
		return 0, newError("create", v.table.maxFileID, ErrTooManyFiles)
	}
	id := v.table.maxFileID + 1
	if err := v.addFile(ctx, id, typ); err != nil {
		return 0, newError("create", id, err)
	}
	return id, nil
}

// CreateFileWithID adds an empty file with a caller chosen id.
func (v *VLFS) CreateFileWithID(ctx context.Context, id FileID, typ FileType) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}

	if _, ok := v.table.find(id); ok {
		return newError("create", id, ErrFileAlreadyExists)
	}
	if err := v.addFile(ctx, id, typ); err != nil {
		return newError("create", id, err)
	}
	return nil
}

func (v *VLFS) addFile(ctx context.Context, id FileID, typ FileType) error {
	if v.table.fileCount() >= v.maxFiles {
		return ErrTooManyFiles
	}

	prevMax := v.table.maxFileID
	v.table.insert(FileEntry{ID: id, Type: typ, FirstSector: NoSector})
	if id > v.table.maxFileID {
		v.table.maxFileID = id
	}
	if err := v.persistTable(ctx); err != nil {
		i, _ := v.table.find(id)
		v.table.remove(i)
		v.table.maxFileID = prevMax
		return err
	}
	v.logger.Printf("vlfs: created file %s type %d", id, typ)
	return nil
}

// RemoveFile deletes a closed file and returns its sectors to the pool.
func (v *VLFS) RemoveFile(ctx context.Context, id FileID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}

	i, ok := v.table.find(id)
	if !ok {
		return newError("remove", id, ErrFileDoesNotExist)
	}
	if v.table.isOpened(id) {
		return newError("remove", id, ErrFileInUse)
	}

	var sectors []uint16
	err := v.walkChain(ctx, v.table.entries[i].FirstSector, func(sector, _ uint16, _ bool) bool {
		sectors = append(sectors, sector)
		return true
	})
	if err != nil {
		if !errors.Is(err, ErrCorruptedPage) {
			return newError("remove", id, err)
		}
		v.logger.Printf("vlfs: remove %s: %v, releasing %d sectors", id, err, len(sectors))
	}

	// The table must stop referencing the sectors before any of them can
	// be claimed and erased again.
	entry := v.table.remove(i)
	if err := v.persistTable(ctx); err != nil {
		v.table.insert(entry)
		return newError("remove", id, err)
	}
	for _, sector := range sectors {
		v.sectors.release(sector)
	}
	v.logger.Printf("vlfs: removed file %s (%d sectors)", id, len(sectors))
	return nil
}

// RemoveFiles removes every file for which predicate returns true.
func (v *VLFS) RemoveFiles(ctx context.Context, predicate func(FileEntry) bool) error {
	files, err := v.Files()
	if err != nil {
		return err
	}
	for _, e := range files {
		if !predicate(e) {
			continue
		}
		if err := v.RemoveFile(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFilesWithType removes every file of the given type.
func (v *VLFS) RemoveFilesWithType(ctx context.Context, typ FileType) error {
	return v.RemoveFiles(ctx, func(e FileEntry) bool {
		return e.Type == typ
	})
}

// Exists reports whether a file with the given id exists.
func (v *VLFS) Exists(id FileID) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpen(); err != nil {
		return false, err
	}
	_, ok := v.table.find(id)
	return ok, nil
}

// Files returns all files, ordered by id.
func (v *VLFS) Files() ([]FileEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]FileEntry, len(v.table.entries))
	for i := range v.table.entries {
		out[i] = v.table.entry(i)
	}
	return out, nil
}

// FileEntry returns the entry of one file.
func (v *VLFS) FileEntry(id FileID) (FileEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpen(); err != nil {
		return FileEntry{}, err
	}
	i, ok := v.table.find(id)
	if !ok {
		return FileEntry{}, newError("stat", id, ErrFileDoesNotExist)
	}
	return v.table.entry(i), nil
}

// FindFileByType returns the file of the given type with the lowest id.
func (v *VLFS) FindFileByType(typ FileType) (FileEntry, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpen(); err != nil {
		return FileEntry{}, false, err
	}
	for i, e := range v.table.entries {
		if e.Type == typ {
			return v.table.entry(i), true, nil
		}
	}
	return FileEntry{}, false, nil
}

// FileSize returns the number of data bytes and sectors of a file. A
// damaged chain is measured up to the damage.
func (v *VLFS) FileSize(ctx context.Context, id FileID) (uint64, int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpen(); err != nil {
		return 0, 0, err
	}
	i, ok := v.table.find(id)
	if !ok {
		return 0, 0, newError("size", id, ErrFileDoesNotExist)
	}

	var size uint64
	var sectors int
	err := v.walkChain(ctx, v.table.entries[i].FirstSector, func(sector, length uint16, lengthOK bool) bool {
		sectors++
		if !lengthOK || length > MaxSectorData {
			v.logger.Printf("vlfs: size %s: bad length in sector %d", id, sector)
			return false
		}
		size += uint64(length)
		return true
	})
	if err != nil {
		if !errors.Is(err, ErrCorruptedPage) {
			return 0, 0, newError("size", id, err)
		}
		v.logger.Printf("vlfs: size %s: %v", id, err)
	}
	return size, sectors, nil
}

// Free returns the number of bytes still available if every free sector
// were filled. It is 0 before Init and after Close.
func (v *VLFS) Free() uint64 {
	return uint64(v.FreeSectorsCount()) * MaxSectorData
}

// FreeSectorsCount returns the number of unclaimed data sectors. It is 0
// before Init and after Close.
func (v *VLFS) FreeSectorsCount() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.checkOpen() != nil {
		return 0
	}
	return v.sectors.free
}

// IsFileOpened reports whether a reader or writer holds the file.
func (v *VLFS) IsFileOpened(id FileID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.table.isOpened(id)
}

// markOpened claims the open slot of a file and returns its entry.
func (v *VLFS) markOpened(op string, id FileID) (FileEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkOpen(); err != nil {
		return FileEntry{}, err
	}

	i, ok := v.table.find(id)
	if !ok {
		return FileEntry{}, newError(op, id, ErrFileDoesNotExist)
	}
	if v.table.isOpened(id) {
		return FileEntry{}, newError(op, id, ErrFileInUse)
	}
	if len(v.table.opened) >= v.cfg.MaxOpenFiles {
		return FileEntry{}, newError(op, id, ErrTooManyFilesOpen)
	}
	v.table.opened[id] = struct{}{}
	return v.table.entries[i], nil
}

func (v *VLFS) markClosed(id FileID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.table.opened, id)
}

// setFirstSector links the first sector of an empty file and persists the
// table.
func (v *VLFS) setFirstSector(ctx context.Context, id FileID, sector uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.table.find(id)
	if !ok {
		return ErrFileDoesNotExist
	}
	prev := v.table.entries[i].FirstSector
	v.table.entries[i].FirstSector = sector
	if err := v.persistTable(ctx); err != nil {
		v.table.entries[i].FirstSector = prev
		return err
	}
	return nil
}
