package vlfs

import (
	"fmt"

	"github.com/example/vlfs/pkg/flash"
)

// FileID identifies a file. Ids are unique among live files.
type FileID uint64

// FileType is an application defined tag stored with every file.
type FileType uint16

// String formats the id the way it appears in logs and mount points.
func (id FileID) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}

// NoSector marks a missing sector link: an empty file in the allocation
// table, or the end of a sector chain on flash.
const NoSector uint16 = 0xFFFF

// On-flash geometry.
const (
	SectorSize = flash.SectorSize
	PageSize   = flash.PageSize

	PagesPerSector = SectorSize / PageSize

	// MaxPageData is the payload of every page but the last one of a sector.
	MaxPageData = PageSize - 4

	// MaxLastPageData is the payload of the last page, which also carries
	// the redundant length and next sector fields.
	MaxLastPageData = PageSize - 4 - 8 - 8

	// MaxSectorData is the number of file bytes one sector holds.
	MaxSectorData = (PagesPerSector-1)*MaxPageData + MaxLastPageData

	// lengthOffset and nextOffset locate the redundant trailer fields
	// inside a sector.
	lengthOffset = SectorSize - 16
	nextOffset   = SectorSize - 8

	// lastPageAddressOffset is the offset of the last page in a sector.
	lastPageAddressOffset = SectorSize - PageSize

	// lastPageDataStart is the data length at which a sector's last page
	// starts receiving data.
	lastPageDataStart = (PagesPerSector - 1) * MaxPageData
)

// Allocation table geometry.
const (
	// TableSlotSize is the size of one persisted copy of the table.
	TableSlotSize = 32 * 1024

	// TableSlots is the number of alternating copies.
	TableSlots = 2

	// ReservedSectors is the number of sectors at the start of flash that
	// hold the table slots and never store file data.
	ReservedSectors = TableSlots * TableSlotSize / SectorSize

	tableVersion    uint32 = 1
	tableHeaderSize        = 20
	tableCrcSize           = 4
	rawEntrySize           = 12
)

// FileEntry describes one file in the allocation table.
type FileEntry struct {
	ID   FileID
	Type FileType

	// FirstSector is the head of the sector chain, NoSector for an empty
	// file.
	FirstSector uint16

	// Opened is set while a reader or writer holds the file.
	Opened bool
}

// Empty reports whether the file owns no sectors.
func (e FileEntry) Empty() bool {
	return e.FirstSector == NoSector
}

func sectorAddress(sector uint16) uint32 {
	return uint32(sector) * SectorSize
}

// pad4 rounds n up to a multiple of 4.
func pad4(n int) int {
	return (n + 3) &^ 3
}
