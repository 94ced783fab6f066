package vlfs

import (
	"context"
	"encoding/binary"
	"math/rand/v2"

	"github.com/bits-and-blooms/bitset"
)

// sectorManager tracks which data sectors belong to some file. The map is
// never persisted; it is rebuilt at boot by walking every sector chain.
//
// Indices are absolute sector numbers; bit i of used stands for sector
// first+i.
type sectorManager struct {
	first uint16
	count uint16
	used  *bitset.BitSet
	free  uint32
	rng   *rand.Rand
}

func newSectorManager(first, total uint16) *sectorManager {
	count := total - first
	return &sectorManager{
		first: first,
		count: count,
		used:  bitset.New(uint(count)),
		free:  uint32(count),
		rng:   rand.New(rand.NewPCG(0, 0)),
	}
}

// valid reports whether sector lies in the data region.
func (m *sectorManager) valid(sector uint16) bool {
	return sector >= m.first && sector-m.first < m.count
}

func (m *sectorManager) isUsed(sector uint16) bool {
	return m.used.Test(uint(sector - m.first))
}

// claim marks sector used. Claiming a used sector is a no-op.
func (m *sectorManager) claim(sector uint16) {
	i := uint(sector - m.first)
	if m.used.Test(i) {
		return
	}
	m.used.Set(i)
	m.free--
}

// release marks sector free. Releasing a free sector is a no-op.
func (m *sectorManager) release(sector uint16) {
	i := uint(sector - m.first)
	if !m.used.Test(i) {
		return
	}
	m.used.Clear(i)
	m.free++
}

// pick claims a free sector, scanning forward from a random offset and
// wrapping around.
func (m *sectorManager) pick() (uint16, error) {
	if m.free == 0 {
		return 0, ErrDeviceFull
	}

	start := uint(m.rng.IntN(int(m.count)))
	i, ok := m.used.NextClear(start)
	if !ok || i >= uint(m.count) {
		i, ok = m.used.NextClear(0)
	}
	if !ok || i >= uint(m.count) {
		return 0, ErrDeviceFull
	}

	sector := m.first + uint16(i)
	m.claim(sector)
	return sector, nil
}

// bitmap returns the map as big-endian bytes, used to seed the generator.
func (m *sectorManager) bitmap() []byte {
	words := m.used.Bytes()
	out := make([]byte, len(words)*8)
	for i, w := range words {
		binary.BigEndian.PutUint64(out[i*8:], w)
	}
	return out
}

func (m *sectorManager) seed(s uint32) {
	m.rng = rand.New(rand.NewPCG(uint64(s), uint64(m.free)))
}

func (m *sectorManager) usedCount() uint32 {
	return uint32(m.used.Count())
}

// claimAvailableSectorAndErase takes a free sector and queues its erase.
// The caller holds v.mu for writing.
func (v *VLFS) claimAvailableSectorAndErase(ctx context.Context) (uint16, error) {
	sector, err := v.sectors.pick()
	if err != nil {
		return 0, err
	}
	if err := v.daemon.enqueue(ctx, eraseSectorEntry(sectorAddress(sector))); err != nil {
		v.sectors.release(sector)
		return 0, err
	}
	if v.cfg.Verbose {
		v.logger.Printf("vlfs: claimed sector %d", sector)
	}
	return sector, nil
}

// readFreeSectors rebuilds the sector map from the chains of every file.
// A chain stops at the first undecodable link, out of range index or
// already claimed sector.
func (v *VLFS) readFreeSectors(ctx context.Context) error {
	for _, entry := range v.table.entries {
		sector := entry.FirstSector
		for sector != NoSector {
			if !v.sectors.valid(sector) || v.sectors.isUsed(sector) {
				v.logger.Printf("vlfs: file %s: bad sector link %d, chain truncated", entry.ID, sector)
				break
			}
			v.sectors.claim(sector)

			raw, err := v.dev.read(ctx, sectorAddress(sector)+nextOffset, 8)
			if err != nil {
				return err
			}
			next, ok := DecodeU16x4(raw)
			if !ok {
				v.logger.Printf("vlfs: file %s: corrupted link in sector %d, chain truncated", entry.ID, sector)
				break
			}
			sector = next
		}
	}

	v.sectors.seed(v.dev.calculateCrc(v.sectors.bitmap()))
	return nil
}
