package flash

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MemoryFlash emulates a NOR flash device in memory.
//
// Programming ANDs the new bytes into the image, so a page may be programmed
// again as long as it only clears bits. The emulator can also simulate a
// power cut: after CutPowerAfter(n), every mutation past the n-th one is
// silently dropped, and with torn set the first dropped mutation is applied
// only halfway.
type MemoryFlash struct {
	mu    sync.Mutex
	image []byte

	mutations int
	budget    int // -1 means unlimited
	torn      bool
}

// NewMemoryFlash returns an erased device of size bytes. size must be a
// multiple of 64 KiB.
func NewMemoryFlash(size uint32) *MemoryFlash {
	image := make([]byte, size)
	for i := range image {
		image[i] = 0xFF
	}
	return &MemoryFlash{image: image, budget: -1}
}

// NewMemoryFlashFromImage returns a device holding a copy of image.
func NewMemoryFlashFromImage(image []byte) *MemoryFlash {
	cp := make([]byte, len(image))
	copy(cp, image)
	return &MemoryFlash{image: cp, budget: -1}
}

// LoadMemoryFlash reads a flash image previously written with Save.
func LoadMemoryFlash(path string) (*MemoryFlash, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load flash image: %w", err)
	}
	return &MemoryFlash{image: image, budget: -1}, nil
}

// Save writes the current image to path.
func (m *MemoryFlash) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.WriteFile(path, m.image, 0644); err != nil {
		return fmt.Errorf("failed to save flash image: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current image.
func (m *MemoryFlash) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(m.image))
	copy(cp, m.image)
	return cp
}

// Corrupt XORs mask into the byte at address, bypassing NOR semantics.
func (m *MemoryFlash) Corrupt(address uint32, mask byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image[address] ^= mask
}

// CutPowerAfter makes every mutation after the next n ones a no-op. If torn
// is set, the first dropped mutation is applied to the first half of its
// range only.
func (m *MemoryFlash) CutPowerAfter(n int, torn bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations = 0
	m.budget = n
	m.torn = torn
}

// Mutations returns the number of erases and writes issued since the last
// CutPowerAfter call, including dropped ones.
func (m *MemoryFlash) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// admit accounts for one mutation and reports which fraction of it, in
// halves, reaches the image: 2 all, 1 the first half, 0 nothing.
func (m *MemoryFlash) admit() int {
	m.mutations++
	if m.budget < 0 || m.mutations <= m.budget {
		return 2
	}
	if m.torn && m.mutations == m.budget+1 {
		return 1
	}
	return 0
}

// Size implements Flash.
func (m *MemoryFlash) Size() uint32 {
	return uint32(len(m.image))
}

// Reset implements Flash.
func (m *MemoryFlash) Reset(ctx context.Context) error {
	return nil
}

func (m *MemoryFlash) erase(op string, address, unit uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkErase(op, m.Size(), address, unit); err != nil {
		return err
	}
	end := address + unit*uint32(m.admit())/2
	for i := address; i < end; i++ {
		m.image[i] = 0xFF
	}
	return nil
}

// EraseSector4KiB implements Flash.
func (m *MemoryFlash) EraseSector4KiB(ctx context.Context, address uint32) error {
	return m.erase("erase 4KiB", address, SectorSize)
}

// EraseBlock32KiB implements Flash.
func (m *MemoryFlash) EraseBlock32KiB(ctx context.Context, address uint32) error {
	return m.erase("erase 32KiB", address, Block32KiB)
}

// EraseBlock64KiB implements Flash.
func (m *MemoryFlash) EraseBlock64KiB(ctx context.Context, address uint32) error {
	return m.erase("erase 64KiB", address, Block64KiB)
}

// Read4KiB implements Flash.
func (m *MemoryFlash) Read4KiB(ctx context.Context, address uint32, length int, buf []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRead("read", m.Size(), address, length, buf); err != nil {
		return nil, err
	}
	out := buf[FramingSize : FramingSize+length]
	copy(out, m.image[address:])
	return out, nil
}

// Write256B implements Flash.
func (m *MemoryFlash) Write256B(ctx context.Context, address uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkWrite("write", m.Size(), address, buf); err != nil {
		return err
	}
	n := PageSize * m.admit() / 2
	page := buf[FramingSize : FramingSize+n]
	for i, b := range page {
		m.image[address+uint32(i)] &= b
	}
	return nil
}
